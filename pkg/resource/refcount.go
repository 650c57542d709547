// Package resource implements the hold/release lifecycle shared by anything
// whose memory must outlive concurrent readers: a resource is torn down only
// once it has been shut down and every hold has been released, or once a
// grace period after shutdown has expired.
package resource

import (
	"sync"
	"sync/atomic"
	"time"
)

// Resource is the capability set composed into lifecycle-managed types.
type Resource interface {
	Hold() bool
	Release()
	Shutdown(grace time.Duration)
	IsAvailable() bool
	IsCleanupOver() bool
}

// State is the externally observable lifecycle stage of a resource.
type State int32

const (
	StateAlive State = iota
	StateShutdownRequested
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "ALIVE"
	case StateShutdownRequested:
		return "SHUTDOWN_REQUESTED"
	case StateCleaned:
		return "CLEANED"
	default:
		return "UNKNOWN"
	}
}

// CleanupFunc releases the underlying resource. currentRef is the count observed
// by the release that triggered it. Returning false leaves the resource uncleaned.
type CleanupFunc func(currentRef int64) bool

// forcedBias pushes a stuck count well below zero so late releases cannot
// bring it back to a positive value.
const forcedBias = -1000

// RefCounted tracks holders of a resource. The count starts at 1, which is the
// owner's own reference; Shutdown gives that reference up.
//
// The zero value is not usable; call Init or NewRefCounted.
type RefCounted struct {
	refCount      atomic.Int64
	available     atomic.Bool
	cleanupOver   atomic.Bool
	firstShutdown atomic.Int64

	mu      sync.Mutex
	cleanup CleanupFunc
	now     func() time.Time
}

func NewRefCounted(cleanup CleanupFunc) *RefCounted {
	r := &RefCounted{}
	r.Init(cleanup)
	return r
}

// Init arms r with its cleanup hook. It must be called before r is shared.
func (r *RefCounted) Init(cleanup CleanupFunc) {
	r.refCount.Store(1)
	r.available.Store(true)
	r.cleanupOver.Store(false)
	r.firstShutdown.Store(0)
	r.cleanup = cleanup
	if r.now == nil {
		r.now = time.Now
	}
}

// Hold takes a reference. It fails once shutdown has been requested.
func (r *RefCounted) Hold() bool {
	if r.IsAvailable() {
		if r.refCount.Add(1) > 1 {
			return true
		}
		r.refCount.Add(-1)
	}
	return false
}

// Release drops a reference. The release that takes the count to zero or
// below runs the cleanup hook; it runs at most once successfully.
func (r *RefCounted) Release() {
	value := r.refCount.Add(-1)
	if value > 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleanupOver.Load() {
		return
	}
	ok := true
	if r.cleanup != nil {
		ok = r.cleanup(value)
	}
	r.cleanupOver.Store(ok)
}

// Shutdown requests teardown. The first call drops the owner reference; a
// later call made after grace has elapsed reclaims the resource even if
// holders never released.
func (r *RefCounted) Shutdown(grace time.Duration) {
	if r.IsAvailable() {
		r.firstShutdown.CompareAndSwap(0, r.now().UnixNano())
		if r.available.CompareAndSwap(true, false) {
			r.Release()
			return
		}
	}

	first := time.Unix(0, r.firstShutdown.Load())
	if r.now().Sub(first) < grace {
		return
	}
	for {
		cur := r.refCount.Load()
		if cur <= 0 {
			return
		}
		if r.refCount.CompareAndSwap(cur, forcedBias-cur) {
			r.Release()
			return
		}
	}
}

func (r *RefCounted) IsAvailable() bool {
	return r.available.Load()
}

func (r *RefCounted) IsCleanupOver() bool {
	return r.cleanupOver.Load()
}

// RefCount includes the owner's reference while the resource is alive.
func (r *RefCounted) RefCount() int64 {
	return r.refCount.Load()
}

func (r *RefCounted) State() State {
	switch {
	case r.IsCleanupOver():
		return StateCleaned
	case !r.IsAvailable():
		return StateShutdownRequested
	default:
		return StateAlive
	}
}
