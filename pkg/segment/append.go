package segment

import (
	"time"

	"github.com/downfa11-org/cursus-store/util"
)

// AppendStatus is the outcome of a single append.
type AppendStatus int

const (
	AppendOK AppendStatus = iota
	// AppendOverflow means the record did not fit; the caller rolls over to
	// the next segment. No partial record is left behind.
	AppendOverflow
	AppendMessageSizeExceeded
	AppendPropertiesSizeExceeded
	AppendUnknownError
)

func (s AppendStatus) String() string {
	switch s {
	case AppendOK:
		return "OK"
	case AppendOverflow:
		return "OVERFLOW"
	case AppendMessageSizeExceeded:
		return "MESSAGE_SIZE_EXCEEDED"
	case AppendPropertiesSizeExceeded:
		return "PROPERTIES_SIZE_EXCEEDED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// AppendResult describes what an append did to the segment.
type AppendResult struct {
	Status AppendStatus
	// WroteOffset is the absolute log offset of the first byte written.
	WroteOffset int64
	// WroteBytes is how far the write position moved.
	WroteBytes     int
	StoreTimestamp time.Time
	MsgID          string
}

func (r AppendResult) OK() bool {
	return r.Status == AppendOK
}

// AppendCallback encodes one record into dst, which starts at the segment's
// current write position and is exactly maxBlank bytes long. It reports how
// many bytes it used; it must not touch memory past those bytes.
type AppendCallback interface {
	DoAppend(fileFromOffset int64, dst []byte, maxBlank int, record any) AppendResult
}

// AppendFunc adapts a plain function to AppendCallback.
type AppendFunc func(fileFromOffset int64, dst []byte, maxBlank int, record any) AppendResult

func (fn AppendFunc) DoAppend(fileFromOffset int64, dst []byte, maxBlank int, record any) AppendResult {
	return fn(fileFromOffset, dst, maxBlank, record)
}

// Append hands the free tail of the segment to cb and advances the write
// position by the bytes cb reports. Writers must be serialized per segment.
//
// Appending after Shutdown is allowed until the mapping is cleaned up.
func (f *File) Append(record any, cb AppendCallback) AppendResult {
	if f.IsCleanupOver() {
		util.Error("append to unmapped segment %s", f.fileName)
		return AppendResult{Status: AppendUnknownError}
	}

	cur := f.WritePosition()
	if cur >= f.capacity {
		util.Warn("append to full segment %s, write position: %d, capacity: %d", f.fileName, cur, f.capacity)
		return AppendResult{Status: AppendOverflow, WroteOffset: f.fromOffset + int64(cur)}
	}

	maxBlank := f.capacity - cur
	result := cb.DoAppend(f.fromOffset, f.data[cur:f.capacity:f.capacity], maxBlank, record)
	if result.WroteBytes < 0 || result.WroteBytes > maxBlank {
		util.Error("append callback on %s reported %d bytes with %d available", f.fileName, result.WroteBytes, maxBlank)
		return AppendResult{Status: AppendUnknownError, WroteOffset: f.fromOffset + int64(cur)}
	}

	result.WroteOffset = f.fromOffset + int64(cur)
	f.wrotePos.Add(int64(result.WroteBytes))
	if !result.StoreTimestamp.IsZero() {
		f.storeTimestamp.Store(result.StoreTimestamp.UnixMilli())
	}
	return result
}

// AppendRaw copies data at the write position only if all of it fits.
func (f *File) AppendRaw(data []byte) bool {
	if f.IsCleanupOver() {
		return false
	}
	cur := f.WritePosition()
	if cur+len(data) > f.capacity {
		return false
	}
	copy(f.data[cur:], data)
	f.wrotePos.Add(int64(len(data)))
	return true
}
