package segment

import (
	"github.com/downfa11-org/cursus-store/pkg/mmap"
	"github.com/downfa11-org/cursus-store/util"
)

// syncPageSize is the alignment msync needs. It can be larger than
// OSPageSize, which only drives flush accounting.
var syncPageSize = mmap.PageSize()

// Commit flushes written pages to storage when the flush policy allows it and
// returns the committed position.
//
// A full segment is always flushed. Otherwise, with flushLeastPages > 0 the
// flush waits until that many whole pages are dirty; with 0 any unflushed
// byte triggers it. If the segment is already shutting down the committed
// position is moved to the write position without flushing.
func (f *File) Commit(flushLeastPages int) int {
	if !f.isAbleToFlush(flushLeastPages) {
		return f.CommittedPosition()
	}

	if f.Hold() {
		value := f.WritePosition()
		if err := f.force(f.CommittedPosition(), value); err != nil {
			util.Error("flush segment %s failed: %v", f.fileName, err)
		} else {
			f.advanceCommitted(int64(value))
		}
		f.Release()
	} else {
		util.Warn("in commit, hold failed on %s, commit offset = %d", f.fileName, f.CommittedPosition())
		f.advanceCommitted(f.wrotePos.Load())
	}

	return f.CommittedPosition()
}

func (f *File) isAbleToFlush(flushLeastPages int) bool {
	flush := f.CommittedPosition()
	write := f.WritePosition()

	if f.IsFull() {
		return true
	}

	if flushLeastPages > 0 {
		return write/OSPageSize-flush/OSPageSize >= flushLeastPages
	}

	return write > flush
}

// advanceCommitted moves the committed position forward to v. Concurrent
// committers can finish out of order, so it never moves backwards.
func (f *File) advanceCommitted(v int64) {
	for {
		cur := f.committedPos.Load()
		if v <= cur || f.committedPos.CompareAndSwap(cur, v) {
			return
		}
	}
}

// force syncs the pages covering [from, to). The range start is rounded down
// to a page boundary as msync requires.
func (f *File) force(from, to int) error {
	start := from / syncPageSize * syncPageSize
	if to <= start {
		to = min(start+syncPageSize, f.capacity)
	}
	return f.mapper.Sync(f.file, f.data[start:to])
}

// forceAll syncs the whole mapping.
func (f *File) forceAll() error {
	return f.mapper.Sync(f.file, f.data)
}
