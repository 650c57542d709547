package disk

import (
	"errors"
	"fmt"

	"golang.org/x/exp/mmap"

	"github.com/downfa11-org/cursus-store/pkg/segment"
	"github.com/downfa11-org/cursus-store/util"
)

var ErrOffsetMismatch = errors.New("disk: raw data does not continue the log")

// AppendRaw copies already encoded log bytes verbatim at offset and returns the
// new end of the log. offset must be the current end of the log; an empty log
// accepts any segment boundary. Records carry their own physical offsets, so
// data must come from a log with the same segment size.
func (d *DiskHandler) AppendRaw(offset int64, data []byte) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return offset, ErrClosed
	}
	if d.queue.Len() == 0 {
		if offset < 0 || offset%int64(d.queue.SegmentSize()) != 0 {
			return offset, fmt.Errorf("%w: %d is not a segment boundary", ErrOffsetMismatch, offset)
		}
	} else if end := d.queue.MaxOffset(); offset != end {
		return offset, fmt.Errorf("%w: got %d, log ends at %d", ErrOffsetMismatch, offset, end)
	}

	for len(data) > 0 {
		f, err := d.queue.LastSegment(offset, true)
		if err != nil {
			return offset, fmt.Errorf("%w: %w", ErrAppendFailed, err)
		}
		n := min(len(data), f.Capacity()-f.WritePosition())
		if !f.AppendRaw(data[:n]) {
			return offset, fmt.Errorf("%w: raw copy into %s", ErrAppendFailed, f.FileName())
		}
		offset += int64(n)
		data = data[n:]
	}
	return offset, nil
}

// RestoreSegment appends the valid records of a segment file taken from a copy
// of this partition's log, such as a backup, and commits them. Records the log
// already holds are skipped. It returns the number of bytes copied.
func (d *DiskHandler) RestoreSegment(path string) (int, error) {
	from, err := segment.ParseFromOffset(path)
	if err != nil {
		return 0, err
	}

	r, err := mmap.Open(path)
	if err != nil {
		return 0, fmt.Errorf("mmap open %s: %w", path, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			util.Error("failed to close reader for %s: %v", path, err)
		}
	}()
	if r.Len() != d.queue.SegmentSize() {
		return 0, fmt.Errorf("%w: %s is %d bytes, want %d", ErrSegmentSize, path, r.Len(), d.queue.SegmentSize())
	}

	end, err := ScanSegment(path)
	if err != nil {
		return 0, err
	}

	next := from
	if d.queue.Len() > 0 {
		next = d.queue.MaxOffset()
	}
	if next < from || next > from+int64(end) {
		return 0, fmt.Errorf("%w: %s covers [%d, %d), log ends at %d", ErrOffsetMismatch, path, from, from+int64(end), next)
	}
	skip := int(next - from)
	if skip == end {
		return 0, nil
	}

	buf := make([]byte, end-skip)
	if _, err := r.ReadAt(buf, int64(skip)); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	newEnd, err := d.AppendRaw(next, buf)
	if err != nil {
		return int(newEnd - next), err
	}
	d.commitUntil(newEnd)
	util.Info("%s-%d: restored %d bytes from %s", d.Topic, d.PartitionID, len(buf), path)
	return len(buf), nil
}
