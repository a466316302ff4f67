package bufferpool

import (
	"container/list"
	"sync"

	"github.com/bellwood-io/rowlock/src/pkg/common"
)

// HotPageTracker keeps a bounded, most-recently-touched ordering of
// pages that generated a lock wait. C8's observability surface uses it
// to answer "what has been contended lately" without scanning every
// hash chain. It is the same recency-list structure a buffer pool's
// clock/LRU replacer keeps, just tracking contention instead of
// eviction order and with no victim to choose.
type HotPageTracker struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[common.PageID]*list.Element
}

func NewHotPageTracker(capacity int) *HotPageTracker {
	return &HotPageTracker{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[common.PageID]*list.Element),
	}
}

// Touch records a wait on p, moving it to the front of the recency
// list and evicting the coldest entry once the tracker is at capacity.
func (t *HotPageTracker) Touch(p common.PageID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.index[p]; ok {
		t.order.MoveToFront(elem)
		return
	}

	elem := t.order.PushFront(p)
	t.index[p] = elem

	if t.order.Len() > t.capacity {
		back := t.order.Back()
		if back != nil {
			t.order.Remove(back)
			delete(t.index, back.Value.(common.PageID))
		}
	}
}

// Recent returns the tracked pages, most recently contended first.
func (t *HotPageTracker) Recent() []common.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]common.PageID, 0, t.order.Len())
	for e := t.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(common.PageID))
	}
	return out
}
