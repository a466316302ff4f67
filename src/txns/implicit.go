package txns

// ImplicitHolder answers "does this record still carry an implicit
// lock, and whose?" — the bridge into MVCC spec §4.7 describes. The
// clustered index stores a row's last-modifying transaction ID inline;
// as long as that transaction is still active, the row is implicitly
// X-locked by it even though no explicit Lock object exists yet. The
// lock manager cannot answer this on its own (it has no record format
// or undo-log access), so it takes the answer as a callback supplied
// by the storage layer.
type ImplicitHolder func(table TableID, page PageID, heap HeapNo) (TrxID, bool)

// PromoteImplicitToExplicit is spec §4.7's bridge: called by a reader
// that is about to take a real lock on (page, heap) and first wants to
// know whether an implicit holder needs to be made visible to the
// waits-for graph. If ls.implicit reports an active owner other than
// requester, an explicit X+REC_NOT_GAP lock is created on that owner's
// behalf (so future conflict scans and deadlock detection see it),
// and the owner's TrxID is returned. Returns (0, false) when there is
// no implicit holder, or when the implicit holder is requester itself.
func (ls *LockSys) PromoteImplicitToExplicit(requester *Transaction, table TableID, page PageID, heapCount int, heap HeapNo) (TrxID, bool) {
	if ls.implicit == nil {
		return 0, false
	}

	owner, ok := ls.implicit(table, page, heap)
	if !ok || owner == requester.ID {
		return 0, false
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ownerTrx, ok := ls.trxs[owner]
	if !ok {
		// Owner already committed and was released; its implicit lock
		// no longer exists to promote.
		return 0, false
	}

	ls.pins.Pin(owner)
	defer ls.pins.Unpin(owner)

	for e := ownerTrx.locks.Front(); e != nil; e = e.Next() {
		l := e.Value.(*Lock)
		if l.Kind == KindRecord && l.Page == page && !l.Waiting() &&
			l.TypeMode.Mode == LockX && l.TypeMode.Flags.has(FlagRecNotGap) && l.Bitmap.Test(heap) {
			return owner, true
		}
	}

	l := ls.newRecordLock(ownerTrx, page, heapCount, TypeMode{Mode: LockX, Flags: FlagRecNotGap})
	l.Bitmap.Set(heap)
	ls.store.Insert(l, ownerTrx)
	ls.counters.recLockCreated()

	return owner, true
}
