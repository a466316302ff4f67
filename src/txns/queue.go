package txns

// LockRecord is the central decision procedure C3 describes (spec
// §4.3): grant immediately, reuse an existing lock object, or enqueue
// a waiter. It never blocks — a LockWait result means the caller must
// separately invoke HandleWait to suspend. Callers must hold no lock;
// LockSys.mu is acquired internally.
func (ls *LockSys) LockRecord(
	trx *Transaction,
	table TableID,
	page PageID,
	heapCount int,
	heap HeapNo,
	mode TypeMode,
) ResultCode {
	// Supremum records never carry non-gap locks (spec invariant 3).
	if heap == SupremumHeapNo {
		mode.Flags &^= FlagRecNotGap
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	// Step 1: an already-held table lock strong enough makes a record
	// lock unnecessary.
	if ls.tableLockCoversRecord(trx, table, mode) {
		return Success
	}

	chain := ls.store.GetFirst(mode.Flags, page)

	var conflict *Lock
	var reuse *Lock
	ForEachOnPage(chain, page, func(l *Lock) {
		if conflict != nil {
			return
		}
		if l.Trx == trx.ID {
			if !l.Waiting() && l.TypeMode == mode && (reuse == nil || l.Bitmap.Test(heap)) {
				reuse = l
			}
			return
		}
		if !l.Bitmap.Test(heap) {
			return
		}
		if HasToWait(trx.ID, mode, l.Trx, l.TypeMode, ls.policy) {
			conflict = l
		}
	})

	if conflict != nil {
		ls.enqueueWaiting(trx, table, page, heapCount, heap, mode, conflict.Trx)
		return LockWait
	}

	if reuse != nil {
		if !reuse.Bitmap.Test(heap) {
			reuse.Bitmap.Set(heap)
			return SuccessLockedRec
		}
		return Success
	}

	l := ls.newRecordLock(trx, page, heapCount, mode)
	l.Bitmap.Set(heap)
	ls.store.Insert(l, trx)
	ls.counters.recLockCreated()
	return SuccessLockedRec
}

func (ls *LockSys) newRecordLock(trx *Transaction, page PageID, heapCount int, mode TypeMode) *Lock {
	l := trx.Arena.New()
	l.Trx = trx.ID
	l.Kind = KindRecord
	l.TypeMode = mode
	l.Page = page
	l.Bitmap = NewHeapBitmap(heapCount)
	return l
}

// tableLockCoversRecord reports whether trx already holds a table lock
// on `table` strong enough to satisfy a record-lock request of `mode`
// without creating one (spec §4.3 step 1).
func (ls *LockSys) tableLockCoversRecord(trx *Transaction, table TableID, mode TypeMode) bool {
	tl := ls.store.TableLocks(table)
	if tl == nil {
		return false
	}
	for e := tl.Front(); e != nil; e = e.Next() {
		l := e.Value.(*Lock)
		if l.Trx == trx.ID && !l.Waiting() && StrongerOrEqual(l.TypeMode.Mode, mode.Mode) {
			return true
		}
	}
	return false
}

// enqueueWaiting creates a single-bit waiting lock and wires the
// waits-for edge trx -> blockedBy (spec §4.3, invariant 5). Priority
// waiters are spliced ahead of ordinary waiters on the same page's
// chain, the one documented FIFO exception (spec §4.3, §5).
func (ls *LockSys) enqueueWaiting(
	trx *Transaction, table TableID, page PageID, heapCount int, heap HeapNo,
	mode TypeMode, blockedBy TrxID,
) *Lock {
	mode.Flags |= FlagWait
	l := ls.newRecordLock(trx, page, heapCount, mode)
	l.Bitmap.Set(heap)
	ls.store.Insert(l, trx)
	if ls.policy != nil && ls.policy.IsPriority(trx.ID) {
		if ch := ls.store.GetFirst(mode.Flags, page); ch != nil {
			for e := ch.Front(); e != nil && e != l.hashElem; e = e.Next() {
				o := e.Value.(*Lock)
				if o.Page == page && o.Waiting() && !ls.policy.IsPriority(o.Trx) {
					ch.MoveBefore(l.hashElem, e)
					break
				}
			}
		}
	}
	trx.setWait(l, blockedBy)
	ls.counters.waitStarted()
	ls.hotPages.Touch(page)
	return l
}

// LockTable acquires a table-level lock (§6 lock_table_for_trx), the
// coarse granular lock beneath which record locks are taken.
func (ls *LockSys) LockTable(trx *Transaction, table TableID, mode BaseMode) ResultCode {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	tl := ls.store.TableLocks(table)

	var conflict *Lock
	var reuse *Lock
	if tl != nil {
		for e := tl.Front(); e != nil; e = e.Next() {
			l := e.Value.(*Lock)
			if l.Trx == trx.ID {
				if !l.Waiting() && l.TypeMode.Mode == mode {
					reuse = l
				}
				continue
			}
			if !l.Waiting() && !Compatible(mode, l.TypeMode.Mode) {
				conflict = l
			}
		}
	}

	if conflict != nil {
		tm := TypeMode{Mode: mode, Flags: FlagWait}
		l := trx.Arena.New()
		l.Trx = trx.ID
		l.Kind = KindTable
		l.TypeMode = tm
		l.Table = table
		ls.store.Insert(l, trx)
		trx.setWait(l, conflict.Trx)
		ls.counters.waitStarted()
		return LockWait
	}

	if reuse != nil {
		return Success
	}

	l := trx.Arena.New()
	l.Trx = trx.ID
	l.Kind = KindTable
	l.TypeMode = TypeMode{Mode: mode}
	l.Table = table
	ls.store.Insert(l, trx)
	trx.TableLockCount++
	if mode == LockAutoInc {
		trx.PushAutoInc(table)
		ls.descFor(table).autoInc.Emplace(trx.ID)
	}
	return SuccessLockedRec
}

// grantOne clears the wait flag on l, signals its waiter, and performs
// the AUTO_INC table bookkeeping spec §4.3 describes.
func (ls *LockSys) grantOne(l *Lock) {
	l.TypeMode.Flags &^= FlagWait
	if trx, ok := ls.trxs[l.Trx]; ok {
		ch := trx.clearWait()
		if l.Kind == KindTable {
			trx.TableLockCount++
			if l.TypeMode.Mode == LockAutoInc {
				trx.PushAutoInc(l.Table)
				ls.descFor(l.Table).autoInc.Emplace(trx.ID)
			}
		}
		close(ch)
	}
	ls.counters.waitEnded()
}

// dequeueAndGrant re-scans a page's chain after a release and grants
// every waiter whose blockers are now gone, in chain (insertion) order,
// per spec §4.3's "Dequeue and re-grant".
func (ls *LockSys) dequeueAndGrant(page PageID, flags Flags) {
	chain := ls.store.GetFirst(flags, page)
	if chain == nil {
		return
	}
	// Snapshot: grants below can mutate list ordering semantics for
	// later iterations is fine since we only read TypeMode/bitmaps.
	type waiter struct {
		l *Lock
	}
	var waiters []waiter
	ForEachOnPage(chain, page, func(l *Lock) {
		if l.Waiting() {
			waiters = append(waiters, waiter{l})
		}
	})

	for _, w := range waiters {
		if !w.l.Waiting() {
			continue // already granted earlier in this pass
		}
		blocked := false
		for _, h := range w.l.Bitmap.Bits() {
			ForEachOnPage(chain, page, func(other *Lock) {
				if blocked || other == w.l || other.Waiting() {
					return
				}
				if !other.Bitmap.Test(h) {
					return
				}
				if HasToWait(w.l.Trx, w.l.TypeMode, other.Trx, other.TypeMode, ls.policy) {
					blocked = true
				}
			})
			if blocked {
				break
			}
		}
		if !blocked {
			ls.grantOne(w.l)
		}
	}
}

// dequeueAndGrantTable is dequeueAndGrant's table-lock analogue.
func (ls *LockSys) dequeueAndGrantTable(table TableID) {
	tl := ls.store.TableLocks(table)
	if tl == nil {
		return
	}
	var waiters []*Lock
	for e := tl.Front(); e != nil; e = e.Next() {
		l := e.Value.(*Lock)
		if l.Waiting() {
			waiters = append(waiters, l)
		}
	}
	for _, w := range waiters {
		if !w.Waiting() {
			continue
		}
		blocked := false
		for e := tl.Front(); e != nil; e = e.Next() {
			other := e.Value.(*Lock)
			if other == w || other.Waiting() {
				continue
			}
			if !Compatible(w.TypeMode.Mode, other.TypeMode.Mode) {
				blocked = true
				break
			}
		}
		if !blocked {
			ls.grantOne(w)
		}
	}
}
