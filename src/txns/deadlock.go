package txns

// findCycle runs Brent's cycle-finding algorithm over the waits-for
// graph starting at start. The graph is functional — every transaction
// waits for at most one other at a time — so a plain tortoise/hare
// walk from a single starting point is sufficient; it returns nil if
// the chain from start runs into a transaction that holds everything
// it needs (no outgoing edge) before any cycle appears, or if the
// walk exceeds the iteration cap without closing (spec §4.5's bound
// against a corrupted or pathological graph).
func (ls *LockSys) findCycle(start TrxID) []TrxID {
	next := func(id TrxID) (TrxID, bool) {
		t, ok := ls.trxs[id]
		if !ok {
			return 0, false
		}
		return t.WaitsFor()
	}

	iterCap := 2 * len(ls.trxs)
	if iterCap < 16 {
		iterCap = 16
	}

	power, lam := 1, 1
	tortoise := start
	hare, ok := next(start)
	if !ok {
		return nil
	}
	for tortoise != hare {
		if power == lam {
			tortoise = hare
			power *= 2
			lam = 0
		}
		hare, ok = next(hare)
		if !ok {
			return nil
		}
		lam++
		if lam > iterCap {
			return nil
		}
	}

	// The cycle has length lam; advance a fresh hare lam steps ahead of
	// a fresh tortoise to land both exactly on the cycle's entry point.
	tortoise = start
	hare = start
	for i := 0; i < lam; i++ {
		hare, ok = next(hare)
		if !ok {
			return nil
		}
	}
	if tortoise == hare {
		// start is itself the cycle's entry point.
	} else {
		for tortoise != hare {
			tortoise, _ = next(tortoise)
			hare, _ = next(hare)
		}
	}

	cycle := []TrxID{tortoise}
	for cur, _ := next(tortoise); cur != tortoise; cur, _ = next(cur) {
		cycle = append(cycle, cur)
	}
	return cycle
}

// victimWeight is pickVictim's comparison key: a transaction's own
// Weight, pinned to the maximum if the configured PriorityPolicy marks
// it a brute-force transaction that must win any lock conflict (spec
// §9's replication/cluster hook) — the same near-unselectable
// treatment Weight already gives a non-transactional-table writer.
func (ls *LockSys) victimWeight(id TrxID) uint64 {
	t := ls.trxs[id]
	if ls.policy != nil && ls.policy.IsPriority(id) {
		return t.Weight() | 1<<63
	}
	return t.Weight()
}

// pickVictim selects the minimum-weight transaction in cycle (spec
// §4.5's victim rule), breaking exact ties in favor of requester — the
// transaction whose new wait request triggered this detection pass —
// so the thread that is already inside HandleWait is the one that
// rolls back rather than a transaction asleep elsewhere.
func (ls *LockSys) pickVictim(cycle []TrxID, requester TrxID) TrxID {
	best := cycle[0]
	bestW := ls.victimWeight(best)
	for _, id := range cycle[1:] {
		w := ls.victimWeight(id)
		if w < bestW || (w == bestW && id == requester) {
			best = id
			bestW = w
		}
	}
	return best
}

// cancelVictim marks vt as the deadlock's victim, removes its waiting
// lock from the store, and re-grants any other waiter on the same page
// or table that vt's now-gone request was blocking out of turn. Must
// be called with ls.mu held.
func (ls *LockSys) cancelVictim(vt *Transaction) {
	l := vt.WaitLock
	vt.markVictim()
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
	ch := vt.clearWait()
	close(ch)

	if isRec {
		ls.dequeueAndGrant(page, flags)
	} else {
		ls.dequeueAndGrantTable(table)
	}
}

// runDeadlockDetection looks for a cycle reachable from start and, if
// one exists, resolves it by cancelling the chosen victim's wait. It
// reports whether start itself was the victim, the one outcome
// HandleWait's caller must act on immediately rather than proceeding
// to sleep. Must be called with ls.mu held.
func (ls *LockSys) runDeadlockDetection(start *Transaction) bool {
	cycle := ls.findCycle(start.ID)
	if cycle == nil {
		return false
	}

	victim := ls.pickVictim(cycle, start.ID)
	weights := make(map[TrxID]uint64, len(cycle))
	for _, id := range cycle {
		weights[id] = ls.victimWeight(id)
	}
	ls.counters.deadlockResolved(ls.cfg.DeadlockReport, victim, cycle, weights)

	vt, ok := ls.trxs[victim]
	if !ok {
		return victim == start.ID
	}
	ls.cancelVictim(vt)
	return victim == start.ID
}
