package segment

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/downfa11-org/cursus-store/pkg/mmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memMapper backs a segment with heap memory and counts forced flushes.
type memMapper struct {
	syncs   atomic.Int32
	unmaps  atomic.Int32
	fill    byte
	mapErr  error
	syncErr error

	// base of the last mapping and start of the last synced range within it
	mu        sync.Mutex
	base      []byte
	syncStart int
}

func (m *memMapper) Map(_ *os.File, size int) ([]byte, error) {
	if m.mapErr != nil {
		return nil, m.mapErr
	}
	data := bytes.Repeat([]byte{m.fill}, size)
	m.mu.Lock()
	m.base = data
	m.mu.Unlock()
	return data, nil
}

func (m *memMapper) Unmap([]byte) error {
	m.unmaps.Add(1)
	return nil
}

func (m *memMapper) Sync(_ *os.File, data []byte) error {
	m.syncs.Add(1)
	m.mu.Lock()
	if len(data) > 0 && len(m.base) > 0 {
		m.syncStart = int(uintptr(unsafe.Pointer(&data[0])) - uintptr(unsafe.Pointer(&m.base[0])))
	}
	m.mu.Unlock()
	return m.syncErr
}

func (m *memMapper) lastSyncStart() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncStart
}

func (m *memMapper) Advise([]byte, mmap.AccessPattern) error { return nil }

// fixedRecord is a record of N bytes filled with B.
type fixedRecord struct {
	N int
	B byte
}

var fixedCallback = AppendFunc(func(_ int64, dst []byte, maxBlank int, record any) AppendResult {
	r := record.(fixedRecord)
	if r.N > maxBlank {
		return AppendResult{Status: AppendOverflow}
	}
	for i := 0; i < r.N; i++ {
		dst[i] = r.B
	}
	return AppendResult{Status: AppendOK, WroteBytes: r.N, StoreTimestamp: time.Now()}
})

func openTemp(t *testing.T, offset int64, capacity int) *File {
	t.Helper()
	f, err := Open(filepath.Join(t.TempDir(), FileNameFor(offset)), capacity)
	require.NoError(t, err)
	t.Cleanup(func() { f.Destroy(0) })
	return f
}

func openFake(t *testing.T, offset int64, capacity int, m *memMapper) *File {
	t.Helper()
	f, err := openWith(filepath.Join(t.TempDir(), FileNameFor(offset)), capacity, m)
	require.NoError(t, err)
	t.Cleanup(func() { f.Destroy(0) })
	return f
}

func TestOpen_NamesAndStats(t *testing.T) {
	before := Stats()

	f := openTemp(t, 1<<30, 2*OSPageSize)
	assert.EqualValues(t, 1<<30, f.FromOffset())
	assert.Equal(t, 2*OSPageSize, f.Capacity())
	assert.Equal(t, "00000000001073741824", filepath.Base(f.FileName()))
	assert.Zero(t, f.WritePosition())
	assert.Zero(t, f.CommittedPosition())

	info, err := os.Stat(f.FileName())
	require.NoError(t, err)
	assert.EqualValues(t, 2*OSPageSize, info.Size())

	after := Stats()
	assert.Equal(t, before.MappedBytes+int64(2*OSPageSize), after.MappedBytes)
	assert.Equal(t, before.MappedFiles+1, after.MappedFiles)

	require.True(t, f.Destroy(0))
	assert.Equal(t, before, Stats())
	assert.Equal(t, before.MappedBytes, TotalMappedBytes())
	assert.Equal(t, before.MappedFiles, TotalMappedFiles())
}

func TestOpen_MappingFailures(t *testing.T) {
	before := Stats()
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "segment-a"), 1024)
	assert.ErrorIs(t, err, ErrMappingFailure)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = Open(filepath.Join(dir, "-5"), 1024)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = Open(filepath.Join(dir, "0"), 0)
	assert.ErrorIs(t, err, ErrMappingFailure)

	boom := errors.New("mmap refused")
	_, err = openWith(filepath.Join(dir, "4096"), 1024, &memMapper{mapErr: boom})
	assert.ErrorIs(t, err, ErrMappingFailure)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, before, Stats())
}

func TestOpen_ReopenKeepsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileNameFor(0))
	f, err := Open(path, OSPageSize)
	require.NoError(t, err)
	require.True(t, f.AppendRaw([]byte("persisted")))
	f.Commit(0)
	require.True(t, f.Close(0))

	g, err := Open(path, OSPageSize)
	require.NoError(t, err)
	defer g.Destroy(0)
	g.SetWritePosition(9)

	view, err := g.SelectBufferAt(0, 9)
	require.NoError(t, err)
	defer view.Release()
	assert.Equal(t, "persisted", string(view.Bytes()))
}

// Three 300 byte records fit in 1024 bytes, the fourth overflows.
func TestAppend_FillsThenOverflows(t *testing.T) {
	f := openTemp(t, 0, 1024)

	var ranges [][2]int64
	for i := 0; i < 3; i++ {
		res := f.Append(fixedRecord{N: 300, B: byte('a' + i)}, fixedCallback)
		require.Equal(t, AppendOK, res.Status)
		assert.Equal(t, 300, res.WroteBytes)
		ranges = append(ranges, [2]int64{res.WroteOffset, res.WroteOffset + int64(res.WroteBytes)})
	}
	assert.Equal(t, 900, f.WritePosition())
	assert.Equal(t, [][2]int64{{0, 300}, {300, 600}, {600, 900}}, ranges)

	res := f.Append(fixedRecord{N: 300, B: 'x'}, fixedCallback)
	assert.Equal(t, AppendOverflow, res.Status)
	assert.Equal(t, 900, f.WritePosition())

	assert.Equal(t, 900, f.Commit(0))
	assert.Equal(t, 900, f.CommittedPosition())
	assert.False(t, f.StoreTimestamp().IsZero())

	view, err := f.SelectBufferAt(300, 300)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'b'}, 300), view.Bytes())
	view.Release()
}

func TestAppend_FromOffsetIsAbsolute(t *testing.T) {
	f := openTemp(t, 8192, 1024)

	var seenFrom int64
	cb := AppendFunc(func(from int64, dst []byte, maxBlank int, record any) AppendResult {
		seenFrom = from
		return fixedCallback(from, dst, maxBlank, record)
	})

	f.Append(fixedRecord{N: 10}, cb)
	res := f.Append(fixedRecord{N: 10}, cb)
	assert.EqualValues(t, 8192, seenFrom)
	assert.EqualValues(t, 8202, res.WroteOffset)
}

func TestAppend_FullSegmentSkipsCallback(t *testing.T) {
	f := openTemp(t, 0, 512)
	require.True(t, f.AppendRaw(make([]byte, 512)))
	require.True(t, f.IsFull())

	called := false
	res := f.Append(nil, AppendFunc(func(int64, []byte, int, any) AppendResult {
		called = true
		return AppendResult{}
	}))
	assert.False(t, called)
	assert.Equal(t, AppendOverflow, res.Status)
	assert.Equal(t, 512, f.WritePosition())
}

func TestAppend_CallbackOverReportIsRejected(t *testing.T) {
	f := openTemp(t, 0, 512)
	res := f.Append(nil, AppendFunc(func(_ int64, _ []byte, maxBlank int, _ any) AppendResult {
		return AppendResult{Status: AppendOK, WroteBytes: maxBlank + 1}
	}))
	assert.Equal(t, AppendUnknownError, res.Status)
	assert.Zero(t, f.WritePosition())
}

func TestAppend_CallbackSeesBoundedSlice(t *testing.T) {
	f := openTemp(t, 0, 1024)
	require.True(t, f.AppendRaw(make([]byte, 1000)))

	f.Append(nil, AppendFunc(func(_ int64, dst []byte, maxBlank int, _ any) AppendResult {
		assert.Equal(t, 24, maxBlank)
		assert.Len(t, dst, 24)
		assert.Equal(t, 24, cap(dst))
		return AppendResult{Status: AppendOK}
	}))
}

func TestAppendRaw_AllOrNothing(t *testing.T) {
	f := openTemp(t, 0, 100)

	assert.True(t, f.AppendRaw(make([]byte, 60)))
	assert.False(t, f.AppendRaw(make([]byte, 41)))
	assert.Equal(t, 60, f.WritePosition())
	assert.True(t, f.AppendRaw(make([]byte, 40)))
	assert.True(t, f.IsFull())
	assert.True(t, f.AppendRaw(nil))
}

func TestCommit_FlushPolicy(t *testing.T) {
	m := &memMapper{}
	f := openFake(t, 0, 16*OSPageSize, m)

	// nothing written: nothing to flush
	assert.Zero(t, f.Commit(0))
	assert.Zero(t, m.syncs.Load())

	require.True(t, f.AppendRaw(make([]byte, 3*OSPageSize+10)))
	assert.Zero(t, f.Commit(4), "three dirty pages are below the threshold")
	assert.Zero(t, m.syncs.Load())

	require.True(t, f.AppendRaw(make([]byte, OSPageSize)))
	assert.Equal(t, 4*OSPageSize+10, f.Commit(4))
	assert.EqualValues(t, 1, m.syncs.Load())

	require.True(t, f.AppendRaw(make([]byte, 5)))
	assert.Equal(t, 4*OSPageSize+10, f.Commit(1))
	assert.Equal(t, 4*OSPageSize+15, f.Commit(0))
	assert.EqualValues(t, 2, m.syncs.Load())

	// a full segment always flushes
	require.True(t, f.AppendRaw(make([]byte, f.Capacity()-f.WritePosition())))
	assert.Equal(t, f.Capacity(), f.Commit(1000))
	assert.EqualValues(t, 3, m.syncs.Load())
}

func TestCommit_SyncRangeStartsOnMappingPage(t *testing.T) {
	m := &memMapper{}
	page := mmap.PageSize()
	f := openFake(t, 0, 4*page, m)

	require.True(t, f.AppendRaw(make([]byte, page+904)))
	require.Equal(t, page+904, f.Commit(0))
	require.True(t, f.AppendRaw(make([]byte, 100)))
	assert.Equal(t, page+1004, f.Commit(0))

	assert.Zero(t, m.lastSyncStart()%page, "sync range must start on a page of the mapping")
	assert.Equal(t, page, m.lastSyncStart())
}

func TestCommit_UnalignedCommittedPositionRealMapping(t *testing.T) {
	page := mmap.PageSize()
	f := openTemp(t, 0, 4*page)

	require.True(t, f.AppendRaw(bytes.Repeat([]byte{1}, page+904)))
	require.Equal(t, page+904, f.Commit(0))

	require.True(t, f.AppendRaw(bytes.Repeat([]byte{2}, 100)))
	assert.Equal(t, page+1004, f.Commit(0))
	assert.Equal(t, page+1004, f.CommittedPosition())
}

func TestCommit_ConcurrentCommittersNeverRegress(t *testing.T) {
	m := &memMapper{}
	f := openFake(t, 0, 64*OSPageSize, m)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var regressed atomic.Bool
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				c := f.Commit(0)
				if c < last {
					regressed.Store(true)
				}
				last = c
			}
		}()
	}
	for i := 0; i < 500; i++ {
		f.AppendRaw(make([]byte, 500))
	}
	close(stop)
	wg.Wait()

	assert.False(t, regressed.Load())
	assert.Equal(t, f.WritePosition(), f.Commit(0))
}

func TestAdvanceCommitted_Monotonic(t *testing.T) {
	f := openFake(t, 0, OSPageSize, &memMapper{})
	require.True(t, f.AppendRaw(make([]byte, 300)))

	f.advanceCommitted(200)
	f.advanceCommitted(100)
	assert.Equal(t, 200, f.CommittedPosition())
	f.advanceCommitted(300)
	assert.Equal(t, 300, f.CommittedPosition())
}

func TestCommit_SyncErrorKeepsPosition(t *testing.T) {
	m := &memMapper{syncErr: errors.New("disk gone")}
	f := openFake(t, 0, OSPageSize, m)

	require.True(t, f.AppendRaw([]byte("abc")))
	assert.Zero(t, f.Commit(0))
	assert.EqualValues(t, 1, f.RefCount())
}

func TestCommit_NeverExceedsWritePosition(t *testing.T) {
	m := &memMapper{}
	f := openFake(t, 0, 64*OSPageSize, m)

	for i := 0; i < 200; i++ {
		f.AppendRaw(make([]byte, 997))
		for _, pages := range []int{0, 1, 2, 7} {
			c := f.Commit(pages)
			assert.LessOrEqual(t, c, f.WritePosition())
			assert.GreaterOrEqual(t, c, 0)
		}
	}
}

func TestCommit_AfterShutdownSkipsFlush(t *testing.T) {
	m := &memMapper{}
	f := openFake(t, 0, OSPageSize, m)
	require.True(t, f.AppendRaw([]byte("pending")))

	view, err := f.SelectBufferAt(0, 7)
	require.NoError(t, err)

	f.Shutdown(time.Hour)
	assert.Equal(t, 7, f.Commit(0))
	assert.Zero(t, m.syncs.Load())

	view.Release()
	assert.True(t, f.IsCleanupOver())
}

func TestSelectBufferAt_Bounds(t *testing.T) {
	f := openTemp(t, 0, 1024)
	require.True(t, f.AppendRaw(bytes.Repeat([]byte{7}, 100)))

	for pos := -2; pos <= 102; pos++ {
		for _, size := range []int{0, 1, 50, 100, 101} {
			view, err := f.SelectBufferAt(pos, size)
			want := pos >= 0 && pos+size <= 100
			if want {
				require.NoError(t, err, "pos=%d size=%d", pos, size)
				assert.Equal(t, size, view.Size)
				assert.Len(t, view.Bytes(), size)
				assert.Equal(t, int64(pos), view.StartOffset)
				view.Release()
			} else {
				assert.ErrorIs(t, err, ErrOutOfRange, "pos=%d size=%d", pos, size)
				assert.Nil(t, view)
			}
		}
	}

	for _, tc := range []struct{ pos, size int }{
		{1, math.MaxInt},
		{math.MaxInt, 1},
		{math.MaxInt, math.MaxInt},
		{100, math.MaxInt},
	} {
		view, err := f.SelectBufferAt(tc.pos, tc.size)
		assert.ErrorIs(t, err, ErrOutOfRange, "pos=%d size=%d", tc.pos, tc.size)
		assert.Nil(t, view)
	}
	assert.EqualValues(t, 1, f.RefCount())
	assert.True(t, f.Destroy(0), "rejected selects must not leave a hold behind")
}

func TestSelectBufferFrom(t *testing.T) {
	f := openTemp(t, 4096, 1024)
	require.True(t, f.AppendRaw([]byte("0123456789")))

	view, err := f.SelectBufferFrom(4)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(view.Bytes()))
	assert.EqualValues(t, 4100, view.StartOffset)
	assert.Same(t, f, view.Segment())
	assert.EqualValues(t, 2, f.RefCount())

	view.Release()
	view.Release()
	assert.EqualValues(t, 1, f.RefCount())

	_, err = f.SelectBufferFrom(10)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = f.SelectBufferFrom(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSelect_FailsAfterShutdown(t *testing.T) {
	f := openTemp(t, 0, 1024)
	require.True(t, f.AppendRaw([]byte("data")))
	f.Shutdown(time.Hour)

	_, err := f.SelectBufferAt(0, 4)
	assert.ErrorIs(t, err, ErrHoldFailed)
	_, err = f.SelectBufferFrom(0)
	assert.ErrorIs(t, err, ErrHoldFailed)
}

// A held view keeps the mapping alive across Shutdown.
func TestView_KeepsMappingAlive(t *testing.T) {
	before := Stats()
	m := &memMapper{}
	f := openFake(t, 0, 1024, m)
	require.True(t, f.AppendRaw([]byte("alive")))

	v1, err := f.SelectBufferFrom(0)
	require.NoError(t, err)
	v2, err := f.SelectBufferAt(1, 3)
	require.NoError(t, err)

	assert.False(t, f.Destroy(time.Hour))
	assert.False(t, f.Hold())
	assert.Equal(t, "alive", string(v1.Bytes()))

	v1.Release()
	assert.False(t, f.IsCleanupOver())
	assert.Zero(t, m.unmaps.Load())

	v2.Release()
	assert.True(t, f.IsCleanupOver())
	assert.EqualValues(t, 1, m.unmaps.Load())
	assert.Equal(t, before, Stats())

	assert.True(t, f.Destroy(time.Hour))
}

func TestDestroy_Idempotent(t *testing.T) {
	f := openTemp(t, 0, 1024)
	path := f.FileName()

	assert.True(t, f.Destroy(0))
	assert.NoFileExists(t, path)

	// recreate something at the same path: a second destroy must not delete it
	require.NoError(t, os.WriteFile(path, []byte("other"), 0o644))
	assert.True(t, f.Destroy(0))
	assert.FileExists(t, path)
}

func TestDestroy_NotReadyThenForced(t *testing.T) {
	m := &memMapper{}
	f := openFake(t, 0, 1024, m)
	require.True(t, f.Hold())

	assert.False(t, f.Destroy(50*time.Millisecond))
	assert.False(t, f.Destroy(50*time.Millisecond))
	assert.FileExists(t, f.FileName())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, f.Destroy(50*time.Millisecond))
	assert.NoFileExists(t, f.FileName())
	assert.EqualValues(t, 1, m.unmaps.Load())

	// the stuck holder finally lets go
	f.Release()
	assert.EqualValues(t, 1, m.unmaps.Load())
}

// Two holds, shutdown, two releases: the second release cleans up.
func TestLifecycle_HoldShutdownRelease(t *testing.T) {
	m := &memMapper{}
	f := openFake(t, 0, 1024, m)

	require.True(t, f.Hold())
	require.True(t, f.Hold())
	f.Shutdown(0)

	f.Release()
	assert.False(t, f.IsCleanupOver())
	f.Release()
	assert.True(t, f.IsCleanupOver())
	assert.EqualValues(t, 1, m.unmaps.Load())
	assert.False(t, f.Hold())
}

func TestCleanup_RefusedWhileAvailable(t *testing.T) {
	m := &memMapper{}
	f := openFake(t, 0, 1024, m)

	assert.False(t, f.cleanup(0))
	assert.Zero(t, m.unmaps.Load())
	assert.False(t, f.IsCleanupOver())
}

// Appends between shutdown and cleanup are not blocked.
func TestAppend_AfterShutdownBeforeCleanup(t *testing.T) {
	m := &memMapper{}
	f := openFake(t, 0, 1024, m)

	view, err := f.SelectBufferAt(0, 0)
	require.NoError(t, err)
	f.Shutdown(time.Hour)

	res := f.Append(fixedRecord{N: 16, B: 'z'}, fixedCallback)
	assert.Equal(t, AppendOK, res.Status)
	assert.Equal(t, 16, f.WritePosition())
	assert.True(t, f.AppendRaw([]byte("more")))

	view.Release()
	require.True(t, f.IsCleanupOver())

	res = f.Append(fixedRecord{N: 16, B: 'z'}, fixedCallback)
	assert.Equal(t, AppendUnknownError, res.Status)
	assert.False(t, f.AppendRaw([]byte("late")))
	assert.Equal(t, 20, f.WritePosition())
}

// Warm-up over 16 pages with a flush every 4 pages.
func TestWarmUp_SyncFlushesEveryNPages(t *testing.T) {
	m := &memMapper{fill: 0xFF}
	f := openFake(t, 0, 16*OSPageSize, m)

	f.WarmUp(FlushSync, 4)

	for i := 0; i < f.Capacity(); i += OSPageSize {
		assert.Zero(t, f.data[i], "page at %d not touched", i)
		assert.EqualValues(t, 0xFF, f.data[i+1])
	}
	assert.EqualValues(t, 5, m.syncs.Load())
}

func TestWarmUp_AsyncDoesNotFlush(t *testing.T) {
	m := &memMapper{fill: 0xFF}
	f := openFake(t, 0, 8*OSPageSize, m)

	f.WarmUp(FlushAsync, 1)

	for i := 0; i < f.Capacity(); i += OSPageSize {
		assert.Zero(t, f.data[i])
	}
	assert.Zero(t, m.syncs.Load())
	assert.Zero(t, f.WritePosition())
}

func TestWarmUp_RealMapping(t *testing.T) {
	f := openTemp(t, 0, 32*OSPageSize)
	f.WarmUp(FlushSync, 8)
	assert.Zero(t, f.WritePosition())
}

func TestParseFlushPolicy(t *testing.T) {
	tests := map[string]FlushPolicy{
		"sync":        FlushSync,
		"SYNC_FLUSH":  FlushSync,
		"async":       FlushAsync,
		"ASYNC_FLUSH": FlushAsync,
		"":            FlushAsync,
	}
	for in, want := range tests {
		got, err := ParseFlushPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFlushPolicy("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "sync", FlushSync.String())
	assert.Equal(t, "async", FlushAsync.String())
}

func TestSetPositionsClamp(t *testing.T) {
	f := openTemp(t, 0, 1024)

	f.SetWritePosition(5000)
	assert.Equal(t, 1024, f.WritePosition())
	f.SetWritePosition(100)
	f.SetCommittedPosition(500)
	assert.Equal(t, 100, f.CommittedPosition())
	f.SetCommittedPosition(-1)
	assert.Zero(t, f.CommittedPosition())

	assert.False(t, f.FirstCreateInQueue())
	f.SetFirstCreateInQueue(true)
	assert.True(t, f.FirstCreateInQueue())
	assert.False(t, f.LastModified().IsZero())
	assert.Equal(t, f.FileName(), f.String())
}

// One writer appends while readers select and verify written records.
func TestConcurrentReadersWithSingleWriter(t *testing.T) {
	const recSize = 64
	f := openTemp(t, 0, 1024*recSize)

	var wg sync.WaitGroup
	done := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				written := f.WritePosition() / recSize
				if written == 0 {
					continue
				}
				idx := written - 1
				view, err := f.SelectBufferAt(idx*recSize, recSize)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, bytes.Repeat([]byte{byte(idx)}, recSize), view.Bytes())
				view.Release()
				f.Commit(1)
			}
		}()
	}

	for i := 0; i < 1024; i++ {
		res := f.Append(fixedRecord{N: recSize, B: byte(i)}, fixedCallback)
		require.Equal(t, AppendOK, res.Status)
	}
	close(done)
	wg.Wait()

	assert.True(t, f.IsFull())
	assert.Equal(t, f.Capacity(), f.Commit(0))
	assert.EqualValues(t, 1, f.RefCount())
}

func TestAppendStatus_String(t *testing.T) {
	assert.Equal(t, "OK", AppendOK.String())
	assert.Equal(t, "OVERFLOW", AppendOverflow.String())
	assert.Equal(t, "MESSAGE_SIZE_EXCEEDED", AppendMessageSizeExceeded.String())
	assert.Equal(t, "PROPERTIES_SIZE_EXCEEDED", AppendPropertiesSizeExceeded.String())
	assert.Equal(t, "UNKNOWN_ERROR", AppendUnknownError.String())
	assert.True(t, AppendResult{Status: AppendOK}.OK())
}
