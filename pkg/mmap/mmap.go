// Package mmap wraps the platform calls needed to keep a fixed-size file
// mapped read-write: map, force to storage, advise and unmap.
//
// Slices returned by Map alias the mapping and become invalid after Unmap.
package mmap

import (
	"errors"
	"os"
)

// AccessPattern provides hints to the kernel about how the data will be accessed.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	AccessSequential
	AccessRandom
	AccessWillNeed
	AccessDontNeed
)

var (
	// ErrInvalidSize is returned when asked to map zero or negative bytes.
	ErrInvalidSize = errors.New("mmap: invalid mapping size")
	// ErrUnaligned is returned when a sync range does not start on a page boundary.
	ErrUnaligned = errors.New("mmap: address not page aligned")
)

// Map maps the first size bytes of f read-write and shared, so stores through
// the returned slice reach the file.
func Map(f *os.File, size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return osMap(f, size)
}

// Unmap releases a mapping obtained from Map.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return osUnmap(data)
}

// Sync synchronously writes dirty pages in data back to f, the file data is
// mapped from. data must start on a page boundary of the mapping.
func Sync(f *os.File, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return osSync(f, data)
}

// Advise passes an access hint for data to the kernel. Hints are advisory;
// platforms without support silently ignore them.
func Advise(data []byte, pattern AccessPattern) error {
	if len(data) == 0 {
		return nil
	}
	return osAdvise(data, pattern)
}

// PageSize returns the OS memory page size.
func PageSize() int {
	return os.Getpagesize()
}
