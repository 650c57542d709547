package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/cursus-store/pkg/mmap"
	"github.com/downfa11-org/cursus-store/pkg/resource"
	"github.com/downfa11-org/cursus-store/util"
)

// OSPageSize is the page granularity used for flush thresholds and warm-up.
const OSPageSize = 4096

// File is one fixed-capacity segment of the commit log.
type File struct {
	resource.RefCounted

	fileName   string
	fromOffset int64
	capacity   int

	file   *os.File
	data   []byte
	mapper mapper

	wrotePos       atomic.Int64
	committedPos   atomic.Int64
	storeTimestamp atomic.Int64

	firstCreateInQueue atomic.Bool
	fileClosed         atomic.Bool
	deleted            atomic.Bool
}

// Open creates (or reopens) the segment at path, grows it to capacity and
// maps it read-write. The base name of path must be the decimal log offset
// of the segment's first byte. Any failure is wrapped in ErrMappingFailure.
func Open(path string, capacity int) (*File, error) {
	return openWith(path, capacity, defaultMapper)
}

func openWith(path string, capacity int, m mapper) (*File, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid capacity %d", ErrMappingFailure, path, capacity)
	}

	fromOffset, err := ParseFromOffset(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMappingFailure, err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create dir %s: %w", ErrMappingFailure, dir, err)
		}
	}

	fh, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		util.Error("create segment file %s failed: %v", path, err)
		return nil, fmt.Errorf("%w: open %s: %w", ErrMappingFailure, path, err)
	}

	ok := false
	defer func() {
		if !ok {
			if err := fh.Close(); err != nil {
				util.Error("failed to close segment file %s: %v", path, err)
			}
		}
	}()

	info, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrMappingFailure, path, err)
	}
	if info.Size() < int64(capacity) {
		if err := fh.Truncate(int64(capacity)); err != nil {
			return nil, fmt.Errorf("%w: grow %s to %d: %w", ErrMappingFailure, path, capacity, err)
		}
	}

	data, err := m.Map(fh, capacity)
	if err != nil {
		util.Error("map segment file %s failed: %v", path, err)
		return nil, fmt.Errorf("%w: map %s: %w", ErrMappingFailure, path, err)
	}
	if err := m.Advise(data, mmap.AccessSequential); err != nil {
		util.Debug("madvise on %s ignored: %v", path, err)
	}

	f := &File{
		fileName:   path,
		fromOffset: fromOffset,
		capacity:   capacity,
		file:       fh,
		data:       data,
		mapper:     m,
	}
	f.RefCounted.Init(f.cleanup)

	totalMappedBytes.Add(int64(capacity))
	totalMappedFiles.Add(1)
	ok = true

	util.Debug("mapped segment %s (%d bytes, from offset %d)", path, capacity, fromOffset)
	return f, nil
}

// ParseFromOffset extracts the start offset encoded in a segment file name.
func ParseFromOffset(path string) (int64, error) {
	name := filepath.Base(path)
	v, err := strconv.ParseInt(name, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return v, nil
}

// FileNameFor formats the file name of a segment starting at offset.
func FileNameFor(offset int64) string {
	return fmt.Sprintf("%020d", offset)
}

func (f *File) FileName() string {
	return f.fileName
}

// FromOffset is the absolute log offset of the segment's first byte.
func (f *File) FromOffset() int64 {
	return f.fromOffset
}

func (f *File) Capacity() int {
	return f.capacity
}

// WritePosition is the number of bytes appended so far.
func (f *File) WritePosition() int {
	return int(f.wrotePos.Load())
}

// SetWritePosition is used by recovery to restore the position found on disk.
func (f *File) SetWritePosition(pos int) {
	f.wrotePos.Store(int64(clamp(pos, 0, f.capacity)))
}

// CommittedPosition is the number of bytes known to be on stable storage.
func (f *File) CommittedPosition() int {
	return int(f.committedPos.Load())
}

func (f *File) SetCommittedPosition(pos int) {
	f.committedPos.Store(int64(clamp(pos, 0, f.WritePosition())))
}

func (f *File) IsFull() bool {
	return f.WritePosition() == f.capacity
}

// StoreTimestamp is the store time reported by the most recent append.
func (f *File) StoreTimestamp() time.Time {
	ms := f.storeTimestamp.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (f *File) FirstCreateInQueue() bool {
	return f.firstCreateInQueue.Load()
}

func (f *File) SetFirstCreateInQueue(v bool) {
	f.firstCreateInQueue.Store(v)
}

// LastModified reports the backing file's modification time.
func (f *File) LastModified() time.Time {
	info, err := os.Stat(f.fileName)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (f *File) String() string {
	return f.fileName
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
