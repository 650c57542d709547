package segment

import (
	"sync/atomic"

	"github.com/downfa11-org/cursus-store/util"
)

// BufferView is a zero-copy window into a segment's mapping. It holds a
// reference on the segment until Release, so the mapping stays valid while
// the view is in use. Bytes must not be retained after Release.
type BufferView struct {
	// StartOffset is the absolute log offset of the first byte in the view.
	StartOffset int64
	Size        int

	data     []byte
	file     *File
	released atomic.Bool
}

func (v *BufferView) Bytes() []byte {
	return v.data
}

// Segment returns the segment the view points into.
func (v *BufferView) Segment() *File {
	return v.file
}

// Release gives the view's hold back to the segment. It is safe to call more than once.
func (v *BufferView) Release() {
	if v.released.CompareAndSwap(false, true) {
		v.file.Release()
	}
}

// SelectBufferAt returns a view of size bytes starting at file position pos.
// The range must lie within the written part of the segment.
func (f *File) SelectBufferAt(pos, size int) (*BufferView, error) {
	wrote := f.WritePosition()
	if pos < 0 || size < 0 || pos > wrote || size > wrote-pos {
		util.Warn("select buffer request pos invalid, request pos: %d, size: %d, fromOffset: %d",
			pos, size, f.fromOffset)
		return nil, ErrOutOfRange
	}
	return f.selectBuffer(pos, size)
}

// SelectBufferFrom returns a view from pos up to the current write position.
func (f *File) SelectBufferFrom(pos int) (*BufferView, error) {
	wrote := f.WritePosition()
	if pos < 0 || pos >= wrote {
		return nil, ErrOutOfRange
	}
	return f.selectBuffer(pos, wrote-pos)
}

func (f *File) selectBuffer(pos, size int) (*BufferView, error) {
	if !f.Hold() {
		util.Warn("matched, but hold failed, request pos: %d, fromOffset: %d", pos, f.fromOffset)
		return nil, ErrHoldFailed
	}
	return &BufferView{
		StartOffset: f.fromOffset + int64(pos),
		Size:        size,
		data:        f.data[pos : pos+size : pos+size],
		file:        f,
	}, nil
}
