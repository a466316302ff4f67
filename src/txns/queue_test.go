package txns

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bellwood-io/rowlock/src/cfg"
)

func newTestLockSys(t *testing.T) *LockSys {
	t.Helper()
	ls, err := Create(cfg.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(ls.Close)
	return ls
}

func TestLockRecordGrantsWhenNoConflict(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	page := PageID{SpaceID: 1, PageNo: 1}

	res := ls.ClustRecModifyCheckAndLock(trx, 1, page, 8, 2)
	require.Equal(t, SuccessLockedRec, res)
	require.False(t, trx.IsWaiting())
}

func TestLockRecordSameTransactionReusesBit(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(trx, 1, page, 8, 2))
	require.Equal(t, Success, ls.ClustRecModifyCheckAndLock(trx, 1, page, 8, 2))
}

func TestLockRecordConflictingXWaits(t *testing.T) {
	ls := newTestLockSys(t)
	holder := ls.Begin(1)
	waiter := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(holder, 1, page, 8, 2))
	require.Equal(t, LockWait, ls.ClustRecModifyCheckAndLock(waiter, 1, page, 8, 2))
	require.True(t, waiter.IsWaiting())

	blockedBy, ok := waiter.WaitsFor()
	require.True(t, ok)
	require.Equal(t, holder.ID, blockedBy)
}

func TestLockRecordGapVsRecNotGapDoNotConflict(t *testing.T) {
	ls := newTestLockSys(t)
	a := ls.Begin(1)
	b := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	gapMode := TypeMode{Mode: LockX, Flags: FlagGap}
	require.Equal(t, SuccessLockedRec, ls.LockRecord(a, 1, page, 8, 3, gapMode))

	recNotGapMode := TypeMode{Mode: LockX, Flags: FlagRecNotGap}
	require.Equal(t, SuccessLockedRec, ls.LockRecord(b, 1, page, 8, 3, recNotGapMode))
	require.False(t, b.IsWaiting())
}

func TestLockRecordInsertIntentionWaitsBehindGap(t *testing.T) {
	ls := newTestLockSys(t)
	gapHolder := ls.Begin(1)
	inserter := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	gapMode := TypeMode{Mode: LockX, Flags: FlagGap}
	require.Equal(t, SuccessLockedRec, ls.LockRecord(gapHolder, 1, page, 8, 3, gapMode))

	res := ls.InsertCheckAndLock(inserter, 1, page, 8, 3)
	require.Equal(t, LockWait, res, "an insert-intention request still queues behind an existing gap lock")
}

func TestDequeueGrantsNextWaiterOnRelease(t *testing.T) {
	ls := newTestLockSys(t)
	holder := ls.Begin(1)
	waiter := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(holder, 1, page, 8, 2))
	require.Equal(t, LockWait, ls.ClustRecModifyCheckAndLock(waiter, 1, page, 8, 2))

	ls.Release(holder)
	require.False(t, waiter.IsWaiting())
}

func TestTableLockCompatibility(t *testing.T) {
	ls := newTestLockSys(t)
	a := ls.Begin(1)
	b := ls.Begin(2)

	require.Equal(t, SuccessLockedRec, ls.LockTable(a, 7, LockIX))
	require.Equal(t, SuccessLockedRec, ls.LockTable(b, 7, LockIX))

	c := ls.Begin(3)
	require.Equal(t, LockWait, ls.LockTable(c, 7, LockX))
}

func TestTableLockCoversRecordLock(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	page := PageID{SpaceID: 2, PageNo: 5}

	require.Equal(t, SuccessLockedRec, ls.LockTable(trx, 9, LockX))
	res := ls.ClustRecModifyCheckAndLock(trx, 9, page, 8, 2)
	require.Equal(t, Success, res, "an X table lock already covers any record lock request on that table")
}

func TestAutoIncLockIsExclusivePerTable(t *testing.T) {
	ls := newTestLockSys(t)
	a := ls.Begin(1)
	b := ls.Begin(2)

	require.Equal(t, SuccessLockedRec, ls.LockTable(a, 4, LockAutoInc))
	require.Equal(t, LockWait, ls.LockTable(b, 4, LockAutoInc))

	ls.UnlockTableAutoInc(a)
	require.False(t, b.IsWaiting())
}

func TestRecUnlockReleasesSingleRecord(t *testing.T) {
	ls := newTestLockSys(t)
	holder := ls.Begin(1)
	waiter := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(holder, 1, page, 8, 2))
	require.Equal(t, LockWait, ls.ClustRecModifyCheckAndLock(waiter, 1, page, 8, 2))

	require.NoError(t, ls.RecUnlock(holder, page, 2))
	require.False(t, waiter.IsWaiting())
}

func TestRecUnlockOfUnheldLockFails(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	page := PageID{SpaceID: 1, PageNo: 1}
	require.Error(t, ls.RecUnlock(trx, page, 2))
}
