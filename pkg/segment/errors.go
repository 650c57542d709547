package segment

import "errors"

var (
	// ErrMappingFailure is returned by Open when the backing file cannot be
	// created, sized or mapped. The segment must not be used.
	ErrMappingFailure = errors.New("segment: mapping failed")
	// ErrInvalidName means the file name is not a decimal start offset.
	ErrInvalidName = errors.New("segment: file name is not a decimal offset")
	// ErrOutOfRange is returned when a selection falls outside the written bytes.
	ErrOutOfRange = errors.New("segment: position out of range")
	// ErrHoldFailed is returned when the segment is already shutting down.
	ErrHoldFailed = errors.New("segment: hold failed, segment is shutting down")
)
