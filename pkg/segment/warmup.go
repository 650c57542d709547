package segment

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/downfa11-org/cursus-store/util"
)

// FlushPolicy selects whether writes are forced to storage before being acknowledged.
type FlushPolicy int

const (
	FlushAsync FlushPolicy = iota
	FlushSync
)

func (p FlushPolicy) String() string {
	if p == FlushSync {
		return "sync"
	}
	return "async"
}

// ParseFlushPolicy accepts "sync"/"async" and the SYNC_FLUSH/ASYNC_FLUSH spellings.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "async", "async_flush", "":
		return FlushAsync, nil
	case "sync", "sync_flush":
		return FlushSync, nil
	default:
		return FlushAsync, fmt.Errorf("unknown flush policy %q", s)
	}
}

// WarmUp touches every page of the mapping so later appends do not take
// first-touch page faults. With FlushSync it forces the mapping to storage
// after every pagesPerFlush pages and once more at the end.
//
// WarmUp must run before the segment is shared with other goroutines.
func (f *File) WarmUp(policy FlushPolicy, pagesPerFlush int) {
	begin := time.Now()
	lap := begin

	touched := 0
	for i := 0; i < f.capacity; i += OSPageSize {
		f.data[i] = 0
		touched++

		if policy == FlushSync && pagesPerFlush > 0 && touched%pagesPerFlush == 0 {
			if err := f.forceAll(); err != nil {
				util.Error("warm up flush of %s failed: %v", f.fileName, err)
			}
		}

		if touched%1000 == 0 {
			util.Debug("warm up %s: %d pages, lap %s", f.fileName, touched, time.Since(lap))
			lap = time.Now()
			runtime.Gosched()
		}
	}

	if policy == FlushSync {
		util.Info("mapped file warm up done, force to disk, file: %s, cost: %s", f.fileName, time.Since(begin))
		if err := f.forceAll(); err != nil {
			util.Error("warm up flush of %s failed: %v", f.fileName, err)
		}
	}
	util.Info("mapped file warm up done, file: %s, pages: %d, cost: %s", f.fileName, touched, time.Since(begin))
}
