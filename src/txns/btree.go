package txns

import "github.com/bellwood-io/rowlock/src/storage/page"

// This file is C6: the lock-migration hooks the B-tree calls around
// every operation that moves, renumbers, or discards records, so that
// a lock always follows the logical record (or the gap) it protects
// even though the record's physical (page, heap) address changes.
// The page-to-page hooks here are built on migrateHeaps, which moves the
// relevant bits of every matching lock from one page to another without
// ever dropping a bit — spec §4.6's "no lock is lost" invariant. The
// insert, delete, discard and infimum store/restore hooks work on a
// single page's chain directly.

// migrateHeaps moves, for every lock on `from` whose bitmap has a bit
// set among heaps, that bit onto the equivalent lock object on `to`
// (creating one if none exists yet for that transaction/mode). Must be
// called with ls.mu held.
func (ls *LockSys) migrateHeaps(from, to PageID, heaps []HeapNo) {
	if from == to || len(heaps) == 0 {
		return
	}

	var matches []*Lock
	for _, bucketFlag := range []Flags{0, FlagPredicate, FlagPredicatePage} {
		chain := ls.store.GetFirst(bucketFlag, from)
		ForEachOnPage(chain, from, func(l *Lock) {
			for _, h := range heaps {
				if l.Bitmap.Test(h) {
					matches = append(matches, l)
					return
				}
			}
		})
	}

	for _, l := range matches {
		var moved []HeapNo
		for _, h := range heaps {
			if l.Bitmap.Test(h) {
				l.Bitmap.Clear(h)
				moved = append(moved, h)
			}
		}
		if len(moved) == 0 {
			continue
		}
		dest := ls.findOrCreateSibling(l, to)
		for _, h := range moved {
			dest.Bitmap.Set(h)
		}
		if l.Bitmap.Empty() && !l.Waiting() {
			ls.store.Remove(l)
			ls.counters.recLockRemoved()
		}
	}
}

// findOrCreateSibling returns the lock object on page `to` that holds
// the same (transaction, mode) as l, creating one (copying l's
// predicate box, if any) if none exists yet.
func (ls *LockSys) findOrCreateSibling(l *Lock, to PageID) *Lock {
	chain := ls.store.GetFirst(l.TypeMode.Flags, to)
	var found *Lock
	ForEachOnPage(chain, to, func(o *Lock) {
		if found == nil && o.Trx == l.Trx && o.TypeMode == l.TypeMode && o.Box == l.Box && !o.Waiting() {
			found = o
		}
	})
	if found != nil {
		return found
	}

	trx, ok := ls.trxs[l.Trx]
	if !ok {
		// Owning transaction already released; nothing to migrate to.
		// Callers only reach here while the source lock (still owned by
		// a live transaction) exists, so this path is defensive.
		return l
	}

	nl := trx.Arena.New()
	nl.Trx = l.Trx
	nl.Kind = KindRecord
	nl.TypeMode = l.TypeMode
	nl.Page = to
	nl.Box = l.Box
	nl.Bitmap = NewHeapBitmap(0)
	ls.store.Insert(nl, trx)
	return nl
}

// inheritToGapLocked copies, as GAP-mode locks, every granted
// non-insert-intention lock held on (donorPage, donorHeap) onto
// (heirPage, heirHeap) — the "inherit-to-gap" half of a split or merge
// event, paired with migrateHeaps the way the original engine pairs
// lock_rec_move with a separate lock_rec_inherit_to_gap call. Must be
// called with ls.mu held.
func (ls *LockSys) inheritToGapLocked(heirPage PageID, heirHeap HeapNo, donorPage PageID, donorHeap HeapNo) {
	chain := ls.store.GetFirst(0, donorPage)
	var matches []*Lock
	ForEachOnPage(chain, donorPage, func(l *Lock) {
		if l.Waiting() || l.TypeMode.Flags.has(FlagInsertIntention) {
			return
		}
		if l.Bitmap.Test(donorHeap) {
			matches = append(matches, l)
		}
	})
	for _, l := range matches {
		gapMode := TypeMode{Mode: l.TypeMode.Mode, Flags: (l.TypeMode.Flags &^ (FlagRecNotGap | FlagInsertIntention)) | FlagGap}
		dest := ls.findOrCreateGapSibling(l.Trx, heirPage, gapMode)
		dest.Bitmap.Set(heirHeap)
	}
}

// minMovedRecord returns the smallest non-sentinel heap number in
// heaps — the first real record among the ones a split relocated —
// which is lock_get_min_heap_no's role in the original engine's split
// hooks.
func minMovedRecord(heaps []HeapNo) (HeapNo, bool) {
	var min HeapNo
	found := false
	for _, h := range heaps {
		if h == SupremumHeapNo || h == InfimumHeapNo {
			continue
		}
		if !found || h < min {
			min, found = h, true
		}
	}
	return min, found
}

// UpdateSplitRight migrates the locks belonging to `moved` (the heap
// numbers page.SplitAt relocated, plus SupremumHeapNo — the supremum's
// lock relocates too, since the right-hand sibling now owns the gap
// "after the last record") from the original page onto the new
// right-hand sibling created by a page split. It then inherits the
// moved records' lock back onto the old page's own (now new) supremum
// as a GAP lock, mirroring lock_update_split_right's
// lock_rec_move + lock_rec_inherit_to_gap pair: the boundary that was
// interior to the page is now exposed as oldPage's supremum and must
// stay protected.
func (ls *LockSys) UpdateSplitRight(oldPage, newPage PageID, moved []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(oldPage, newPage, moved)
	if donorHeap, ok := minMovedRecord(moved); ok {
		ls.inheritToGapLocked(oldPage, SupremumHeapNo, newPage, donorHeap)
	}
}

// UpdateSplitLeft is UpdateSplitRight's mirror for a split that
// relocates the page's lower key range to a new left-hand sibling:
// donorHeap is the original page's own first surviving record (the
// record now immediately following the split boundary), whose lock
// inherits as a GAP lock onto the new left sibling's freshly-created
// supremum.
func (ls *LockSys) UpdateSplitLeft(oldPage, newPage PageID, moved []HeapNo, donorHeap HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(oldPage, newPage, moved)
	ls.inheritToGapLocked(newPage, SupremumHeapNo, oldPage, donorHeap)
}

// UpdateMergeRight migrates every user-record lock from a page about to
// be freed onto the right-hand sibling it is merging into, then
// inherits the donor's supremum lock as a GAP lock onto heirHeap — the
// receiver's own first surviving record before the merge — so the
// boundary the merge collapses stays protected, mirroring
// lock_update_merge_right's lock_rec_move + lock_rec_inherit_to_gap
// pair.
func (ls *LockSys) UpdateMergeRight(donor, receiver PageID, moved []HeapNo, heirHeap HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(donor, receiver, moved)
	ls.inheritToGapLocked(receiver, heirHeap, donor, SupremumHeapNo)
}

// UpdateMergeLeft is UpdateMergeRight's mirror for a merge into the
// left-hand sibling.
func (ls *LockSys) UpdateMergeLeft(donor, receiver PageID, moved []HeapNo, heirHeap HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(donor, receiver, moved)
	ls.inheritToGapLocked(receiver, heirHeap, donor, SupremumHeapNo)
}

// UpdateRootRaise migrates every lock on the old root page onto the new
// non-root page the root's records were pushed down into when the root
// outgrew a single page.
func (ls *LockSys) UpdateRootRaise(oldRoot, newPage PageID, moved []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(oldRoot, newPage, moved)
}

// UpdateCopyAndDiscard migrates every lock from a page being compacted
// by copy onto the freshly allocated replacement, then discards
// whatever (should be nothing) remains on the source.
func (ls *LockSys) UpdateCopyAndDiscard(from, to PageID, moved []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(from, to, moved)
	ls.discardPageLocked(from)
}

// UpdateSplitAndMerge migrates locks for the case where a split
// immediately merges its new sibling into an adjacent page: functionally
// two migrations in sequence, but expressed as a single hop since no
// lock is ever addressable at the transient middle page.
func (ls *LockSys) UpdateSplitAndMerge(from, to PageID, moved []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(from, to, moved)
}

// MoveRecListStart migrates the locks for a contiguous run of records
// relocated to the start of another page's key range.
func (ls *LockSys) MoveRecListStart(from, to PageID, moved []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(from, to, moved)
}

// MoveRecListEnd is MoveRecListStart's counterpart for a run relocated
// to the end of another page's key range.
func (ls *LockSys) MoveRecListEnd(from, to PageID, moved []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(from, to, moved)
}

// RtrMoveRecList is the spatial (R-tree) index variant of a record-list
// move: identical bit migration, but findOrCreateSibling additionally
// carries each lock's bounding box across so predicate re-checks on the
// destination page stay correct.
func (ls *LockSys) RtrMoveRecList(from, to PageID, moved []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.migrateHeaps(from, to, moved)
}

// UpdateDiscardPage drops every remaining lock on a page that is being
// freed outright (its records already migrated elsewhere by a prior
// merge, or genuinely empty). It acquires ls.mu itself, so it must not
// be called with ls.mu held; UpdateCopyAndDiscard, which already holds
// it, calls discardPageLocked instead.
func (ls *LockSys) UpdateDiscardPage(p PageID) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.discardPageLocked(p)
}

func (ls *LockSys) discardPageLocked(p PageID) {
	for _, bucketFlag := range []Flags{0, FlagPredicate, FlagPredicatePage} {
		chain := ls.store.GetFirst(bucketFlag, p)
		var stale []*Lock
		ForEachOnPage(chain, p, func(l *Lock) { stale = append(stale, l) })
		for _, l := range stale {
			wasWaiting := l.Waiting()
			ls.store.Remove(l)
			ls.counters.recLockRemoved()
			if wasWaiting {
				if trx, ok := ls.trxs[l.Trx]; ok {
					close(trx.clearWait())
				}
			}
		}
	}
}

// UpdateInsert inherits gap-carrying locks from newHeap's successor
// onto newHeap itself: inserting a record splits one logical gap into
// two, and the half that used to be guarded by a lock on the old
// successor must still be guarded now that the new record sits inside
// it. Insert-intention locks are never inherited (spec §4.1 rule 3);
// callers must invoke this after rp already reflects the insertion.
func (ls *LockSys) UpdateInsert(rp *page.RecordPage, newHeap HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	successor := rp.Successor(newHeap)
	chain := ls.store.GetFirst(0, rp.ID)
	var matches []*Lock
	ForEachOnPage(chain, rp.ID, func(l *Lock) {
		if l.Waiting() {
			return
		}
		if l.TypeMode.Flags.has(FlagInsertIntention) {
			return
		}
		if !l.TypeMode.Flags.has(FlagGap) && l.TypeMode.Flags.has(FlagRecNotGap) {
			return
		}
		if l.Bitmap.Test(successor) {
			matches = append(matches, l)
		}
	})
	for _, l := range matches {
		if l.TypeMode.Flags.has(FlagGap) {
			l.Bitmap.Set(newHeap)
			continue
		}
		gapMode := TypeMode{Mode: l.TypeMode.Mode, Flags: l.TypeMode.Flags | FlagGap}
		ls.findOrCreateGapSibling(l.Trx, rp.ID, gapMode).Bitmap.Set(newHeap)
	}
}

// UpdateDelete inherits the gap component of every lock held on heap
// onto its successor before the record is physically removed, so the
// widened gap left behind stays protected, then clears heap's bit
// everywhere. Callers must invoke this before rp.Delete(heap).
func (ls *LockSys) UpdateDelete(rp *page.RecordPage, heap HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	successor := rp.Successor(heap)
	chain := ls.store.GetFirst(0, rp.ID)
	var matches []*Lock
	ForEachOnPage(chain, rp.ID, func(l *Lock) {
		if l.Bitmap.Test(heap) {
			matches = append(matches, l)
		}
	})

	for _, l := range matches {
		hadGapComponent := l.TypeMode.Flags.has(FlagGap) || !l.TypeMode.Flags.has(FlagRecNotGap)
		l.Bitmap.Clear(heap)
		if hadGapComponent {
			gapMode := TypeMode{Mode: l.TypeMode.Mode, Flags: (l.TypeMode.Flags &^ FlagRecNotGap) | FlagGap}
			dest := ls.findOrCreateGapSibling(l.Trx, rp.ID, gapMode)
			dest.Bitmap.Set(successor)
		}
		if l.Bitmap.Empty() && !l.Waiting() {
			ls.store.Remove(l)
			ls.counters.recLockRemoved()
		}
	}
}

func (ls *LockSys) findOrCreateGapSibling(trxID TrxID, p PageID, mode TypeMode) *Lock {
	chain := ls.store.GetFirst(mode.Flags, p)
	var found *Lock
	ForEachOnPage(chain, p, func(o *Lock) {
		if found == nil && o.Trx == trxID && o.TypeMode == mode && !o.Waiting() {
			found = o
		}
	})
	if found != nil {
		return found
	}
	trx, ok := ls.trxs[trxID]
	if !ok {
		// No live transaction to own a new lock; drop the inheritance.
		return &Lock{Bitmap: NewHeapBitmap(0)}
	}
	nl := trx.Arena.New()
	nl.Trx = trxID
	nl.Kind = KindRecord
	nl.TypeMode = mode
	nl.Page = p
	nl.Bitmap = NewHeapBitmap(0)
	ls.store.Insert(nl, trx)
	return nl
}

// StoreOnPageInfimum coalesces every lock bit for the given heaps onto
// the page's infimum record, a temporary holding pen the B-tree uses
// while it physically reorganizes a page and heap-number continuity
// cannot be guaranteed mid-operation.
func (ls *LockSys) StoreOnPageInfimum(p PageID, heaps []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for _, bucketFlag := range []Flags{0, FlagPredicate, FlagPredicatePage} {
		chain := ls.store.GetFirst(bucketFlag, p)
		ForEachOnPage(chain, p, func(l *Lock) {
			for _, h := range heaps {
				if l.Bitmap.Test(h) {
					l.Bitmap.Clear(h)
					l.Bitmap.Set(InfimumHeapNo)
				}
			}
		})
	}
}

// RestoreFromPageInfimum reapplies every lock parked on the page's
// infimum record (by a prior StoreOnPageInfimum) onto every heap in
// heaps. This is conservative rather than exact — it cannot recover
// which specific heap number a stashed bit used to belong to — but it
// never under-locks, which is the invariant that matters (spec §4.6).
func (ls *LockSys) RestoreFromPageInfimum(p PageID, heaps []HeapNo) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for _, bucketFlag := range []Flags{0, FlagPredicate, FlagPredicatePage} {
		chain := ls.store.GetFirst(bucketFlag, p)
		var matches []*Lock
		ForEachOnPage(chain, p, func(l *Lock) {
			if l.Bitmap.Test(InfimumHeapNo) {
				matches = append(matches, l)
			}
		})
		for _, l := range matches {
			l.Bitmap.Clear(InfimumHeapNo)
			for _, h := range heaps {
				l.Bitmap.Set(h)
			}
		}
	}
}

// MoveReorganizePage runs the store/restore pair around a page compaction
// that does not change any record's key or heap number, only its
// physical slot — the common case for a leaf-page reorganize.
func (ls *LockSys) MoveReorganizePage(rp *page.RecordPage) {
	heaps := rp.UserRecords()
	ls.StoreOnPageInfimum(rp.ID, heaps)
	ls.RestoreFromPageInfimum(rp.ID, heaps)
}
