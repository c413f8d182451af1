package lifecycle

import (
	"errors"
	"sync"
)

var ErrDraining = errors.New("write reference gate is draining")

// WriteRef is a filesystem-wide write gate, modeled on a percpu refcount:
// background work that must finish before unmount holds a reference, and
// Drain blocks new acquisitions and waits for outstanding ones to drop.
type WriteRef struct {
	mu       sync.Mutex
	cond     *sync.Cond
	count    int  // Outstanding references
	draining bool // Set once Drain has been called; blocks new Acquire calls
}

// NewWriteRef returns a ready-to-use write reference gate.
func NewWriteRef() *WriteRef {
	wr := &WriteRef{}
	wr.cond = sync.NewCond(&wr.mu)
	return wr
}

// Acquire takes a reference, failing with ErrDraining if the gate is
// shutting down.
func (wr *WriteRef) Acquire() error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if wr.draining {
		return ErrDraining
	}
	wr.count++
	return nil
}

// TryAcquire takes a reference only if one is not already outstanding.
// Used to coalesce a background job so at most one instance is queued.
func (wr *WriteRef) TryAcquire() bool {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if wr.draining || wr.count > 0 {
		return false
	}
	wr.count++
	return true
}

// Release drops a reference, waking any pending Drain once the count
// reaches zero.
func (wr *WriteRef) Release() {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	wr.count--
	if wr.count == 0 {
		wr.cond.Broadcast()
	}
}

// Drain marks the gate as draining and blocks until every outstanding
// reference has been released. Called by unmount.
func (wr *WriteRef) Drain() {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	wr.draining = true
	for wr.count > 0 {
		wr.cond.Wait()
	}
}

// Outstanding reports the current reference count, for tests and metrics.
func (wr *WriteRef) Outstanding() int {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.count
}
