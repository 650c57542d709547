package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"golang.org/x/time/rate"

	"github.com/downfa11-org/cursus-store/pkg/segment"
	"github.com/downfa11-org/cursus-store/util"
)

var (
	// ErrSegmentSize is returned by Load when a file on disk is not exactly one segment long.
	ErrSegmentSize = errors.New("disk: segment file size mismatch")
	ErrNoSegment   = errors.New("disk: no segment available")
)

type segmentItem struct {
	from int64
	file *segment.File
}

func lessSegment(a, b segmentItem) bool {
	return a.from < b.from
}

// WarmOptions controls pre-touching of newly created segments.
type WarmOptions struct {
	Enabled       bool
	Policy        segment.FlushPolicy
	PagesPerFlush int
}

// SegmentQueue is the ordered set of fixed-size segments that make up one
// commit log directory. Segment i+1 always starts where segment i ends.
type SegmentQueue struct {
	dir         string
	segmentSize int
	warm        WarmOptions

	mu       sync.RWMutex
	segments *btree.BTreeG[segmentItem]

	flushMu        sync.Mutex
	committedWhere atomic.Int64
}

func NewSegmentQueue(dir string, segmentSize int, warm WarmOptions) *SegmentQueue {
	return &SegmentQueue{
		dir:         dir,
		segmentSize: segmentSize,
		warm:        warm,
		segments:    btree.NewG(8, lessSegment),
	}
}

func (q *SegmentQueue) Dir() string {
	return q.dir
}

func (q *SegmentQueue) SegmentSize() int {
	return q.segmentSize
}

// Load maps every segment already present in the directory. All but the last
// segment are treated as full; the last is scanned to find where writing
// stopped.
func (q *SegmentQueue) Load() error {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read segment dir %s: %w", q.dir, err)
	}

	var found []segmentItem
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(q.dir, e.Name())
		from, err := segment.ParseFromOffset(path)
		if err != nil {
			util.Debug("skipping non-segment file %s", path)
			continue
		}
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() != int64(q.segmentSize) {
			return fmt.Errorf("%w: %s is %d bytes, want %d", ErrSegmentSize, path, info.Size(), q.segmentSize)
		}
		found = append(found, segmentItem{from: from})
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range found {
		path := filepath.Join(q.dir, segment.FileNameFor(found[i].from))
		last := i == len(found)-1

		wrote := q.segmentSize
		if last {
			adviseWillNeed(path)
			wrote, err = ScanSegment(path)
			if err != nil {
				return err
			}
		}

		f, err := segment.Open(path, q.segmentSize)
		if err != nil {
			return err
		}
		f.SetWritePosition(wrote)
		f.SetCommittedPosition(wrote)
		q.segments.ReplaceOrInsert(segmentItem{from: found[i].from, file: f})
		util.Info("loaded segment %s (write position %d)", path, wrote)
	}

	if last, ok := q.segments.Max(); ok {
		q.committedWhere.Store(last.from + int64(last.file.CommittedPosition()))
	}
	return nil
}

// LastSegment returns the segment currently accepting writes. When the queue
// is empty or the last segment is full and create is set, a new segment is
// created; an empty queue starts at startOffset rounded down to a segment
// boundary.
func (q *SegmentQueue) LastSegment(startOffset int64, create bool) (*segment.File, error) {
	q.mu.RLock()
	last, ok := q.segments.Max()
	q.mu.RUnlock()

	if ok && !last.file.IsFull() {
		return last.file, nil
	}
	if !create {
		if ok {
			return last.file, nil
		}
		return nil, ErrNoSegment
	}

	var from int64
	if ok {
		from = last.from + int64(q.segmentSize)
	} else {
		from = startOffset - startOffset%int64(q.segmentSize)
	}
	return q.createSegment(from, !ok)
}

func (q *SegmentQueue) createSegment(from int64, first bool) (*segment.File, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if last, ok := q.segments.Max(); ok && last.from >= from {
		// another caller already rolled over
		return last.file, nil
	}

	path := filepath.Join(q.dir, segment.FileNameFor(from))
	f, err := segment.Open(path, q.segmentSize)
	if err != nil {
		return nil, err
	}
	if first {
		f.SetFirstCreateInQueue(true)
	}
	if q.warm.Enabled {
		f.WarmUp(q.warm.Policy, q.warm.PagesPerFlush)
	}
	q.segments.ReplaceOrInsert(segmentItem{from: from, file: f})
	util.Debug("created segment %s", path)
	return f, nil
}

// FindSegment returns the segment containing the log offset, or nil.
func (q *SegmentQueue) FindSegment(offset int64) *segment.File {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var found *segment.File
	q.segments.DescendLessOrEqual(segmentItem{from: offset}, func(it segmentItem) bool {
		if offset < it.from+int64(q.segmentSize) {
			found = it.file
		}
		return false
	})
	return found
}

// Segments returns a snapshot of the queue in offset order.
func (q *SegmentQueue) Segments() []*segment.File {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*segment.File, 0, q.segments.Len())
	q.segments.Ascend(func(it segmentItem) bool {
		out = append(out, it.file)
		return true
	})
	return out
}

func (q *SegmentQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.segments.Len()
}

// MinOffset is the first offset still on disk, or -1 when the queue is empty.
func (q *SegmentQueue) MinOffset() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if first, ok := q.segments.Min(); ok {
		return first.from
	}
	return -1
}

// MaxOffset is the offset the next record will be written at.
func (q *SegmentQueue) MaxOffset() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if last, ok := q.segments.Max(); ok {
		return last.from + int64(last.file.WritePosition())
	}
	return 0
}

// CommittedWhere is the log offset up to which data is known to be on disk.
func (q *SegmentQueue) CommittedWhere() int64 {
	return q.committedWhere.Load()
}

// Commit flushes the segment holding the commit point and advances it.
// It reports whether the commit point moved.
func (q *SegmentQueue) Commit(flushLeastPages int) bool {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	where := q.committedWhere.Load()
	f := q.FindSegment(where)
	if f == nil {
		if first := q.MinOffset(); first >= 0 && where < first {
			f = q.FindSegment(first)
		}
	}
	if f == nil {
		return false
	}

	next := f.FromOffset() + int64(f.Commit(flushLeastPages))
	if next == where {
		return false
	}
	q.committedWhere.Store(next)
	return true
}

// DeleteExpired destroys segments whose file has not been modified for
// expire. The last segment is never removed. Deletion stops at the first
// segment that is not old enough or cannot be destroyed yet, so the queue
// stays contiguous. limiter may be nil.
func (q *SegmentQueue) DeleteExpired(ctx context.Context, expire, grace time.Duration, limiter *rate.Limiter, cleanImmediately bool) int {
	segs := q.Segments()
	if len(segs) <= 1 {
		return 0
	}

	deleted := 0
	for _, f := range segs[:len(segs)-1] {
		if !cleanImmediately && time.Since(f.LastModified()) <= expire {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		if !f.Destroy(grace) {
			util.Debug("retention: %s still referenced, retry later", f.FileName())
			break
		}

		q.mu.Lock()
		q.segments.Delete(segmentItem{from: f.FromOffset()})
		q.mu.Unlock()
		deleted++
	}
	return deleted
}

// Shutdown asks every segment to release its mapping once unreferenced.
func (q *SegmentQueue) Shutdown(grace time.Duration) {
	for _, f := range q.Segments() {
		f.Shutdown(grace)
	}
}

// Close shuts every segment down and closes the ones that are unreferenced.
// It reports whether all segments were closed.
func (q *SegmentQueue) Close(grace time.Duration) bool {
	all := true
	for _, f := range q.Segments() {
		if !f.Close(grace) {
			util.Warn("segment %s still referenced at close", f.FileName())
			all = false
		}
	}
	return all
}

// Destroy removes every segment file and the directory itself.
func (q *SegmentQueue) Destroy(grace time.Duration) {
	for _, f := range q.Segments() {
		f.Destroy(grace)
	}

	q.mu.Lock()
	q.segments.Clear(false)
	q.mu.Unlock()
	q.committedWhere.Store(0)

	if err := os.Remove(q.dir); err != nil && !os.IsNotExist(err) {
		util.Warn("remove segment dir %s: %v", q.dir, err)
	}
}
