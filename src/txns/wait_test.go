package txns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bellwood-io/rowlock/src/cfg"
)

func TestHandleWaitGrantsWhenUnblocked(t *testing.T) {
	ls := newTestLockSys(t)
	holder := ls.Begin(1)
	waiter := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(holder, 1, page, 8, 2))
	require.Equal(t, LockWait, ls.ClustRecModifyCheckAndLock(waiter, 1, page, 8, 2))

	done := make(chan ResultCode, 1)
	go func() {
		done <- ls.HandleWait(context.Background(), waiter)
	}()

	time.Sleep(20 * time.Millisecond)
	ls.Release(holder)

	select {
	case r := <-done:
		require.Equal(t, Success, r)
	case <-time.After(2 * time.Second):
		t.Fatal("HandleWait never returned after release")
	}
}

func TestHandleWaitTimesOutAndWithdrawsWait(t *testing.T) {
	config := cfg.DefaultConfig()
	config.LockWaitTimeoutSec = 1
	ls, err := Create(config)
	require.NoError(t, err)
	t.Cleanup(ls.Close)

	holder := ls.Begin(1)
	waiter := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(holder, 1, page, 8, 2))
	require.Equal(t, LockWait, ls.ClustRecModifyCheckAndLock(waiter, 1, page, 8, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.Equal(t, LockWaitTimeout, ls.HandleWait(ctx, waiter))
	require.False(t, waiter.IsWaiting())
}

func TestHandleWaitWithNoOutstandingWaitReturnsSuccess(t *testing.T) {
	ls := newTestLockSys(t)
	trx := ls.Begin(1)
	require.Equal(t, Success, ls.HandleWait(context.Background(), trx))
}

func TestHandleWaitHonorsOutOfBandInterrupt(t *testing.T) {
	config := cfg.DefaultConfig()
	config.LockWaitTimeoutSec = cfg.InfiniteWaitThresholdSeconds
	ls, err := Create(config)
	require.NoError(t, err)
	t.Cleanup(ls.Close)

	holder := ls.Begin(1)
	waiter := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(holder, 1, page, 8, 2))
	require.Equal(t, LockWait, ls.ClustRecModifyCheckAndLock(waiter, 1, page, 8, 2))

	done := make(chan ResultCode, 1)
	go func() {
		done <- ls.HandleWait(context.Background(), waiter)
	}()

	// A KILL-QUERY-style handler only holds the *Transaction, not the
	// context the blocked HandleWait call was given.
	time.Sleep(20 * time.Millisecond)
	waiter.Interrupt()

	select {
	case r := <-done:
		require.Equal(t, Interrupted, r)
	case <-time.After(2 * time.Second):
		t.Fatal("HandleWait never observed the out-of-band interrupt")
	}
	require.False(t, waiter.IsWaiting())
}

func TestHandleWaitHonorsContextCancellation(t *testing.T) {
	config := cfg.DefaultConfig()
	config.LockWaitTimeoutSec = cfg.InfiniteWaitThresholdSeconds
	ls, err := Create(config)
	require.NoError(t, err)
	t.Cleanup(ls.Close)

	holder := ls.Begin(1)
	waiter := ls.Begin(2)
	page := PageID{SpaceID: 1, PageNo: 1}

	require.Equal(t, SuccessLockedRec, ls.ClustRecModifyCheckAndLock(holder, 1, page, 8, 2))
	require.Equal(t, LockWait, ls.ClustRecModifyCheckAndLock(waiter, 1, page, 8, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.Equal(t, Interrupted, ls.HandleWait(ctx, waiter))
	require.False(t, waiter.IsWaiting())
}
