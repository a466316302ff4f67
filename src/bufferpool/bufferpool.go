// Package bufferpool, in this repository, no longer owns page frames —
// the buffer pool and disk manager are external collaborators of the
// lock manager, referenced only by interface. What survives here is the
// pin-count bookkeeping: the implicit-lock bridge (see rowlock) needs to
// take a reference on a transaction long enough to promote its implicit
// lock to an explicit one without racing the transaction's own cleanup.
// That is the same pin/unpin discipline a buffer pool uses to keep a
// frame resident while a reader still holds it, so the mechanism (and
// its name) is kept, just re-pointed at transaction handles instead of
// page frames.
package bufferpool

import (
	"sync"

	"github.com/bellwood-io/rowlock/src/pkg/assert"
)

// PinRegistry tracks reference counts for handles of type K. A holder
// that is pinned cannot be considered "gone" by a concurrent reader
// that only holds a handle, even if the owner is concurrently tearing
// it down — the owner must wait for the pin count to drop to zero.
type PinRegistry[K comparable] struct {
	mu     sync.Mutex
	counts map[K]int
}

func NewPinRegistry[K comparable]() *PinRegistry[K] {
	return &PinRegistry[K]{
		counts: make(map[K]int),
	}
}

// Pin increments the reference count for k and returns the new count.
func (r *PinRegistry[K]) Pin(k K) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[k]++
	return r.counts[k]
}

// Unpin decrements the reference count for k. It is a no-op past zero,
// which keeps Unpin safe to call from a deferred cleanup that races a
// teardown that already dropped the entry.
func (r *PinRegistry[K]) Unpin(k K) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.counts[k]
	if !ok {
		return
	}

	assert.Assert(n > 0, "unpin of handle with zero pin count: %+v", k)
	n--
	if n == 0 {
		delete(r.counts, k)
	} else {
		r.counts[k] = n
	}
}

// Count reports the current pin count for k (0 if untracked).
func (r *PinRegistry[K]) Count(k K) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counts[k]
}

// Size reports the number of distinct pinned handles.
func (r *PinRegistry[K]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.counts)
}
