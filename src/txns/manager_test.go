package txns

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bellwood-io/rowlock/src/cfg"
)

func TestCreateRejectsInvalidConfig(t *testing.T) {
	bad := cfg.DefaultConfig()
	bad.CellCount = 0
	_, err := Create(bad)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	ls := newTestLockSys(t)
	ls.Close()
	ls.Close() // must not panic or double-release the pool
}

func TestResizeRehashesWithoutLosingLocks(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(trx, 1, page, 8, 2))
	ls.Resize(4096)
	require.Equal(t, Success, ls.ClustRecModifyCheckAndLock(trx, 1, page, 8, 2))
}

func TestBeginRegistersDistinctTransactions(t *testing.T) {
	ls := newTestLockSys(t)
	a := ls.Begin(1)
	b := ls.Begin(2)
	require.NotEqual(t, a.ID, b.ID)

	ls.mu.Lock()
	_, aOK := ls.trxs[a.ID]
	_, bOK := ls.trxs[b.ID]
	ls.mu.Unlock()
	require.True(t, aOK)
	require.True(t, bOK)
}

func TestLockTableForTrxRejectsUnknownTransaction(t *testing.T) {
	ls := newTestLockSys(t)
	_, err := ls.LockTableForTrx(999, 1, LockIS)
	require.Error(t, err)
}

func TestLockTableResurrectSkipsConflictChecks(t *testing.T) {
	ls := newTestLockSys(t)
	holder := ls.Begin(1)
	recovered := ls.Begin(2)

	require.Equal(t, SuccessLockedRec, ls.LockTable(holder, 1, LockX))
	// A normal request would have to wait behind holder's X lock, but
	// recovery resurrection always wins immediately.
	ls.LockTableResurrect(recovered, 1, LockX)
	require.False(t, recovered.IsWaiting())
	require.Equal(t, 1, recovered.TableLockCount)
}

func TestLockTableXUnlockReleasesExactlyOneLock(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	waiter := ls.Begin(2)

	require.Equal(t, SuccessLockedRec, ls.LockTable(trx, 1, LockX))
	require.Equal(t, LockWait, ls.LockTable(waiter, 1, LockX))

	require.NoError(t, ls.LockTableXUnlock(trx, 1))
	require.False(t, waiter.IsWaiting())
}

func TestLockTableXUnlockOfUnheldLockFails(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	require.Error(t, ls.LockTableXUnlock(trx, 1))
}

func TestReleaseForgetsTransactionAndFreesArena(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(trx, 1, page, 8, 2))
	ls.Release(trx)

	ls.mu.Lock()
	_, ok := ls.trxs[trx.ID]
	ls.mu.Unlock()
	require.False(t, ok)
	require.Equal(t, TrxCommittedInMemory, trx.State)
}

// TestEndToEndAcrossModules exercises queue, wait, and deadlock
// detection together against a single LockSys, the kind of scenario
// that only shows up once every subsystem is wired to the others.
func TestEndToEndAcrossModules(t *testing.T) {
	ls := newTestLockSys(t)
	writer := ls.Begin(1)
	reader := ls.Begin(2)
	page := PageID{SpaceID: 3, PageNo: 9}

	require.Equal(t, SuccessLockedRec, ls.LockTable(writer, 3, LockIX))
	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(writer, 3, page, 8, 5))

	require.Equal(t, SuccessLockedRec, ls.LockTable(reader, 3, LockIS))
	res := ls.ClustRecReadCheckAndLock(reader, 3, page, 8, 5, LockS, FlagRecNotGap)
	require.Equal(t, LockWait, res)
	require.True(t, reader.IsWaiting())

	ls.Release(writer)
	require.False(t, reader.IsWaiting())
}
