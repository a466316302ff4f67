package txns

import (
	"container/list"
	"sync"
	"time"
)

// Transaction is the external collaborator spec §3 describes: identity,
// state, the list of locks it holds or waits for, and the wait-edge
// bookkeeping the deadlock detector walks. In this repository it is a
// concrete type because nothing outside the lock manager exists to
// supply a fuller one, but every field it carries is exactly the
// subset spec §3 lists as "used by reference".
type Transaction struct {
	mu sync.Mutex

	ID    TrxID
	State TrxState

	// locks is the intrusive list of every lock this transaction holds
	// or is waiting for (spec §3's "trx.trx_locks").
	locks *list.List

	// Arena is this transaction's per-transaction lock allocator.
	Arena *LockArena

	// WaitLock is the one lock this transaction currently waits on, or
	// nil. WaitTrx (valid while waitTrxOK is set) names the transaction
	// blocking it, spec invariant 5.
	WaitLock  *Lock
	WaitTrx   TrxID
	waitTrxOK bool

	// Victim is set by the deadlock detector on the transaction chosen
	// to roll back; sticky until the victim's own wait observes it
	// (per original_source, cleared only by the victim itself).
	Victim bool

	SuspendedAt time.Time

	// notify is recreated each time the transaction starts waiting; it
	// is closed exactly once, by grantOne, cancelWaitLocked, cancelVictim
	// or discardPageLocked, and is this
	// transaction's substitute for a condition variable.
	notify chan struct{}

	// Deadlock-weight inputs (spec §4.5): number of undo records
	// generated and count of table locks held, plus whether this
	// transaction has touched a non-transactional table (which pins
	// its weight to the maximum so it is never chosen as victim).
	UndoCount              int
	TableLockCount         int
	ModifiedNonTransactional bool

	// autoIncStack is released in reverse acquisition order at
	// statement end (spec §3 invariant 8).
	autoIncStack []TableID

	interrupted bool
}

// NewTransaction creates a transaction in the active state with an
// empty lock list.
func NewTransaction(id TrxID) *Transaction {
	return &Transaction{
		ID:     id,
		State:  TrxActive,
		locks:  list.New(),
		notify: make(chan struct{}),
		Arena:  NewLockArena(),
	}
}

// Weight is the deadlock-victim comparison key (spec §4.5): lower
// weight is preferred as victim. A transaction that modified a
// non-transactional table gets the maximum possible weight via a
// high-order marker bit so it is (de facto) never chosen.
func (t *Transaction) Weight() uint64 {
	w := uint64(t.UndoCount) + uint64(t.TableLockCount)
	if t.ModifiedNonTransactional {
		w |= 1 << 63
	}
	return w
}

// setWait records that t is now waiting on lock l, blocked by holder.
// Must be called with the lock system's mutex held.
func (t *Transaction) setWait(l *Lock, holder TrxID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WaitLock = l
	t.WaitTrx = holder
	t.waitTrxOK = true
	t.SuspendedAt = time.Now()
	t.notify = make(chan struct{})
}

// clearWait tears down the waiting state, returning the channel that
// was open for it (so callers can close it to wake a blocked reader).
// Must be called with the lock system's mutex held.
func (t *Transaction) clearWait() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := t.notify
	t.WaitLock = nil
	t.waitTrxOK = false
	t.WaitTrx = 0
	return ch
}

// IsWaiting reports whether t currently waits on a lock.
func (t *Transaction) IsWaiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WaitLock != nil
}

// WaitsFor reports the transaction t is blocked behind, if any. This
// is the one outgoing edge of the deadlock detector's waits-for graph
// (spec §4.5).
func (t *Transaction) WaitsFor() (TrxID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WaitTrx, t.waitTrxOK
}

// NotifyChan returns the channel that closes when this transaction's
// wait ends (grant, cancel, or victim selection).
func (t *Transaction) NotifyChan() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

func (t *Transaction) markVictim() {
	t.mu.Lock()
	t.Victim = true
	t.mu.Unlock()
}

// TakeVictim reports and clears the victim flag; the flag is sticky
// until the victim itself observes it exactly once.
func (t *Transaction) TakeVictim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.Victim
	t.Victim = false
	return v
}

func (t *Transaction) Interrupt() {
	t.mu.Lock()
	t.interrupted = true
	t.mu.Unlock()
}

func (t *Transaction) isInterrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupted
}

// PushAutoInc records that t now owns the AUTO_INC lock on table.
func (t *Transaction) PushAutoInc(table TableID) {
	t.autoIncStack = append(t.autoIncStack, table)
}

// PopAutoInc removes and returns the most recently acquired AUTO_INC
// table, releasing in strict reverse-acquisition order (spec §3
// invariant 8). Returns false if the stack is empty.
func (t *Transaction) PopAutoInc() (TableID, bool) {
	if len(t.autoIncStack) == 0 {
		return 0, false
	}
	n := len(t.autoIncStack) - 1
	table := t.autoIncStack[n]
	t.autoIncStack = t.autoIncStack[:n]
	return table, true
}
