package txns

import (
	"context"
	"time"
)

// HandleWait is the blocking half of a lock request (spec §4.4,
// external call `handle_wait`): given a transaction whose most recent
// LockRecord/LockTable call returned LockWait, it runs deadlock
// detection, then suspends the calling goroutine until the wait is
// granted, times out, is cancelled by ctx, or the transaction is
// chosen as a deadlock victim. A transaction with no outstanding wait
// returns Success immediately.
//
// Actual suspension runs on the bounded worker pool (ants), and
// waitSem caps how many transactions may be concurrently suspended —
// the Go-native substitute for the original engine's one-OS-thread-
// per-waiter model, where a fixed thread pool bounds the same
// resource.
func (ls *LockSys) HandleWait(ctx context.Context, trx *Transaction) ResultCode {
	ls.mu.Lock()
	if trx.WaitLock == nil {
		ls.mu.Unlock()
		return Success
	}

	if ls.cfg.DeadlockDetect {
		if ls.runDeadlockDetection(trx) {
			ls.mu.Unlock()
			return Deadlock
		}
	}

	ch := trx.NotifyChan()
	infinite := ls.cfg.IsInfiniteWait()
	var deadline time.Duration
	if !infinite {
		deadline = time.Duration(ls.cfg.LockWaitTimeoutSec) * time.Second
	}
	ls.mu.Unlock()

	if err := ls.waitSem.Acquire(ctx, 1); err != nil {
		ls.mu.Lock()
		ls.cancelWaitLocked(trx)
		ls.mu.Unlock()
		return Interrupted
	}
	defer ls.waitSem.Release(1)

	result := make(chan ResultCode, 1)
	task := func() { result <- ls.suspend(ctx, trx, ch, deadline, infinite) }
	if err := ls.pool.Submit(task); err != nil {
		// Pool exhausted: fall back to running inline rather than
		// dropping the wait.
		return ls.suspend(ctx, trx, ch, deadline, infinite)
	}
	return <-result
}

// interruptPollInterval is how often suspend polls a waiter's
// interrupted flag. The original engine's wait loop re-checks
// trx->error_state on each timeslice rather than being woken by it
// directly; Interrupt may be called from a goroutine that holds only a
// *Transaction (e.g. a KILL QUERY handler), not the ctx this specific
// HandleWait call was given, so it cannot simply cancel a context.
const interruptPollInterval = 50 * time.Millisecond

// suspend blocks on ch (the transaction's current wait-notify channel)
// until grant, timeout, external cancellation, or an out-of-band
// Interrupt call.
func (ls *LockSys) suspend(ctx context.Context, trx *Transaction, ch <-chan struct{}, deadline time.Duration, infinite bool) ResultCode {
	var timerC <-chan time.Time
	if !infinite {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timerC = timer.C
	}

	poll := time.NewTicker(interruptPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ch:
		case <-timerC:
			ls.mu.Lock()
			if trx.WaitLock != nil {
				ls.cancelWaitLocked(trx)
				ls.mu.Unlock()
				ls.counters.waitFinished(time.Since(trx.SuspendedAt))
				return LockWaitTimeout
			}
			ls.mu.Unlock()
		case <-ctx.Done():
			ls.mu.Lock()
			if trx.WaitLock != nil {
				ls.cancelWaitLocked(trx)
			}
			ls.mu.Unlock()
			return Interrupted
		case <-poll.C:
			if !trx.isInterrupted() {
				continue
			}
			ls.mu.Lock()
			if trx.WaitLock != nil {
				ls.cancelWaitLocked(trx)
			}
			ls.mu.Unlock()
			return Interrupted
		}
		break
	}

	ls.mu.Lock()
	victim := trx.TakeVictim()
	ls.mu.Unlock()
	ls.counters.waitFinished(time.Since(trx.SuspendedAt))
	if victim {
		return Deadlock
	}
	return Success
}

// cancelWaitLocked withdraws trx's pending wait: the queued lock is
// removed from the store and trx's notify channel is closed so any
// other goroutine reading it (there should be none, since only trx's
// own HandleWait call reads this channel) is not left hanging. Must be
// called with ls.mu held.
func (ls *LockSys) cancelWaitLocked(trx *Transaction) {
	l := trx.WaitLock
	if l == nil {
		return
	}

	var page PageID
	var flags Flags
	var table TableID
	isRec := l.Kind == KindRecord
	if isRec {
		page, flags = l.Page, l.TypeMode.Flags
	} else {
		table = l.Table
	}

	ls.store.Remove(l)
	ch := trx.clearWait()
	close(ch)

	if isRec {
		ls.dequeueAndGrant(page, flags)
	} else {
		ls.dequeueAndGrantTable(table)
	}
}
