// Package page models the slice of B-tree leaf-page state that the lock
// manager's event hooks need: the key-ordered sequence of heap numbers
// on a page, and nothing about byte layout. The real page format
// (slotted storage, free-space bookkeeping, on-disk representation) is
// the B-tree and buffer pool's concern — an external collaborator the
// lock system only ever receives a PageID and a set of heap numbers
// from. RecordPage stands in for that collaborator in tests.
package page

import (
	"github.com/bellwood-io/rowlock/src/pkg/assert"
	"github.com/bellwood-io/rowlock/src/pkg/common"
)

// RecordPage is the key-ordered list of heap numbers live on one page:
// infimum (0), then user records in key order, then supremum (1).
type RecordPage struct {
	ID       common.PageID
	order    []common.HeapNo
	nextHeap common.HeapNo
}

// NewRecordPage creates an empty leaf page with just its two sentinels.
func NewRecordPage(id common.PageID) *RecordPage {
	return &RecordPage{
		ID:       id,
		order:    []common.HeapNo{common.InfimumHeapNo, common.SupremumHeapNo},
		nextHeap: 2,
	}
}

// HeapCount returns one past the highest heap number ever allocated on
// this page — the bitmap-sizing quantity lock objects are allocated
// against (§3 invariant 1: later growth may leave high bits uncovered).
func (p *RecordPage) HeapCount() int {
	return int(p.nextHeap)
}

// Records returns the full key-ordered heap-number sequence, sentinels
// included.
func (p *RecordPage) Records() []common.HeapNo {
	out := make([]common.HeapNo, len(p.order))
	copy(out, p.order)
	return out
}

// UserRecords returns the key-ordered heap numbers excluding both
// sentinels.
func (p *RecordPage) UserRecords() []common.HeapNo {
	out := make([]common.HeapNo, 0, len(p.order))
	for _, h := range p.order {
		if h != common.InfimumHeapNo && h != common.SupremumHeapNo {
			out = append(out, h)
		}
	}
	return out
}

// InsertBefore allocates a new heap number and splices it into key
// order immediately before `before` (which may be SupremumHeapNo to
// append at the end). Returns the new heap number.
func (p *RecordPage) InsertBefore(before common.HeapNo) common.HeapNo {
	idx := p.indexOf(before)
	assert.Assert(idx >= 0, "InsertBefore: %d not present on page %+v", before, p.ID)

	h := p.nextHeap
	p.nextHeap++

	p.order = append(p.order, common.InfimumHeapNo)
	copy(p.order[idx+1:], p.order[idx:])
	p.order[idx] = h

	return h
}

// Delete removes a user record from key order. The heap number is
// never reused, matching the original engine's "bit beyond n means
// unset, but n never shrinks" bitmap semantics.
func (p *RecordPage) Delete(h common.HeapNo) {
	idx := p.indexOf(h)
	assert.Assert(idx >= 0, "Delete: %d not present on page %+v", h, p.ID)
	assert.Assert(
		h != common.InfimumHeapNo && h != common.SupremumHeapNo,
		"cannot delete a sentinel record",
	)
	p.order = append(p.order[:idx], p.order[idx+1:]...)
}

// Successor returns the heap number immediately following h in key
// order (supremum if h is the last user record).
func (p *RecordPage) Successor(h common.HeapNo) common.HeapNo {
	idx := p.indexOf(h)
	assert.Assert(idx >= 0, "Successor: %d not present on page %+v", h, p.ID)
	assert.Assert(idx+1 < len(p.order), "no successor past supremum")
	return p.order[idx+1]
}

func (p *RecordPage) indexOf(h common.HeapNo) int {
	for i, v := range p.order {
		if v == h {
			return i
		}
	}
	return -1
}

// SplitAt partitions the page's user records at idx (0-based among
// user records): records [0, idx) stay, [idx, end) are removed here
// and returned so the caller (the B-tree layer, normally; the test
// harness, here) can install them on the new right-hand page.
func (p *RecordPage) SplitAt(idx int) []common.HeapNo {
	users := p.UserRecords()
	assert.Assert(idx >= 0 && idx <= len(users), "split index out of range")

	moved := append([]common.HeapNo(nil), users[idx:]...)
	for _, h := range moved {
		p.Delete(h)
	}
	return moved
}

// Adopt appends externally-provided heap numbers (e.g. from a donor
// page's SplitAt) to this page's user-record sequence, preserving
// their relative order and advancing the page's own nextHeap past
// whichever of them is numerically largest, so bitmap sizing on this
// page accounts for the adopted records.
func (p *RecordPage) Adopt(heaps []common.HeapNo) {
	supIdx := p.indexOf(common.SupremumHeapNo)
	assert.Assert(supIdx >= 0, "page missing supremum")

	tail := append([]common.HeapNo(nil), p.order[supIdx:]...)
	p.order = append(p.order[:supIdx], heaps...)
	p.order = append(p.order, tail...)

	for _, h := range heaps {
		if h+1 > p.nextHeap {
			p.nextHeap = h + 1
		}
	}
}
