package txns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPromoteImplicitToExplicitCreatesVisibleLock(t *testing.T) {
	ls := newTestLockSys(t)
	owner := ls.Begin(1)
	reader := ls.Begin(2)

	page := PageID{SpaceID: 1, PageNo: 1}
	var heap HeapNo = 2

	ls.implicit = func(table TableID, p PageID, h HeapNo) (TrxID, bool) {
		if p == page && h == heap {
			return owner.ID, true
		}
		return 0, false
	}

	promoted, ok := ls.PromoteImplicitToExplicit(reader, 1, page, 8, heap)
	require.True(t, ok)
	require.Equal(t, owner.ID, promoted)

	ls.mu.Lock()
	chain := ls.store.GetFirst(0, page)
	ls.mu.Unlock()

	var found bool
	ForEachOnPage(chain, page, func(l *Lock) {
		if l.Trx == owner.ID && l.TypeMode.Mode == LockX && l.TypeMode.Flags.has(FlagRecNotGap) && l.Bitmap.Test(heap) {
			found = true
		}
	})
	require.True(t, found, "promotion must leave an explicit X+REC_NOT_GAP lock for the deadlock detector to see")

	// A second promotion for the same record must reuse the same lock
	// rather than creating a duplicate.
	_, ok = ls.PromoteImplicitToExplicit(reader, 1, page, 8, heap)
	require.True(t, ok)

	ls.mu.Lock()
	chain = ls.store.GetFirst(0, page)
	ls.mu.Unlock()
	count := 0
	ForEachOnPage(chain, page, func(l *Lock) {
		if l.Trx == owner.ID {
			count++
		}
	})
	require.Equal(t, 1, count)
}

func TestPromoteImplicitToExplicitNoOpWithoutHolder(t *testing.T) {
	ls := newTestLockSys(t)
	reader := ls.Begin(1)
	page := PageID{SpaceID: 1, PageNo: 1}

	_, ok := ls.PromoteImplicitToExplicit(reader, 1, page, 8, 2)
	require.False(t, ok, "no ImplicitHolder configured means no implicit owner exists")
}

func TestPromoteImplicitToExplicitSkipsSelf(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	page := PageID{SpaceID: 1, PageNo: 1}

	ls.implicit = func(table TableID, p PageID, h HeapNo) (TrxID, bool) {
		return trx.ID, true
	}

	_, ok := ls.PromoteImplicitToExplicit(trx, 1, page, 8, 2)
	require.False(t, ok, "a transaction never needs to promote its own implicit lock against itself")
}
