package txns

// BaseMode is the coarse lock strength: intent, shared/exclusive, or
// the specialized table-level autoincrement mode.
type BaseMode uint8

const (
	LockIS BaseMode = iota
	LockIX
	LockS
	LockX
	LockAutoInc
)

func (m BaseMode) String() string {
	switch m {
	case LockIS:
		return "IS"
	case LockIX:
		return "IX"
	case LockS:
		return "S"
	case LockX:
		return "X"
	case LockAutoInc:
		return "AUTO_INC"
	default:
		return "?"
	}
}

// Flags qualify a record lock's target and role. Table locks never
// carry these.
type Flags uint16

const (
	FlagGap Flags = 1 << iota
	FlagRecNotGap
	FlagInsertIntention
	FlagPredicate
	FlagPredicatePage
	FlagWait
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// IsGapOnly reports whether f describes a pure gap lock: a gap
// component with no REC_NOT_GAP and no insert-intention.
func (f Flags) IsGapOnly() bool {
	return f.has(FlagGap) && !f.has(FlagRecNotGap) && !f.has(FlagInsertIntention)
}

// TypeMode packs a record or table lock's mode with its flags, as
// spec §3's "type_mode" field.
type TypeMode struct {
	Mode  BaseMode
	Flags Flags
}

func (t TypeMode) Waiting() bool { return t.Flags.has(FlagWait) }

// compatMatrix[a][b] is true iff a lock of mode a and a lock of mode b
// may be held simultaneously by different transactions on the same
// object, ignoring gap/insert-intention refinements (§4.1).
var compatMatrix = [5][5]bool{
	//           IS     IX     S      X      AUTO_INC
	LockIS:      {true, true, true, false, true},
	LockIX:      {true, true, false, false, true},
	LockS:       {true, false, true, false, false},
	LockX:       {false, false, false, false, false},
	LockAutoInc: {true, true, false, false, false},
}

// Compatible implements the pure 5x5 compatibility table (§4.1).
func Compatible(a, b BaseMode) bool {
	return compatMatrix[a][b]
}

// strongerRank gives a total preorder over the *comparable* pairs of
// the partial order IS < IX, IS < S < X, IX < X (IX and S are
// incomparable, and AUTO_INC does not participate in the strength
// order — it is compared for compatibility only).
var strongerRank = map[BaseMode]int{
	LockIS: 0,
	LockIX: 1,
	LockS:  1,
	LockX:  2,
}

// StrongerOrEqual reports whether a lock of mode a subsumes a lock of
// mode b: any request that would be satisfied by b is also satisfied
// by a. IX and S are incomparable — neither subsumes the other — so
// this returns false for {IX,S} in both directions. AUTO_INC only
// subsumes AUTO_INC.
func StrongerOrEqual(a, b BaseMode) bool {
	if a == LockAutoInc || b == LockAutoInc {
		return a == b
	}
	if a == b {
		return true
	}
	switch {
	case a == LockIX && b == LockS, a == LockS && b == LockIX:
		return false
	default:
		return strongerRank[a] >= strongerRank[b]
	}
}

// PredicateBox is a minimum bounding box for a spatial predicate lock
// (§4.1, §GLOSSARY "Predicate lock"). Coordinates are caller-defined
// units; BoxesOverlap is the only geometric predicate the lock manager
// needs.
type PredicateBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Overlaps reports whether two bounding boxes intersect.
func (b PredicateBox) Overlaps(o PredicateBox) bool {
	if b.MaxX < o.MinX || o.MaxX < b.MinX {
		return false
	}
	if b.MaxY < o.MinY || o.MaxY < b.MinY {
		return false
	}
	return true
}

// SameTrx reports request-vs-holder same-owner shortcut used by
// HasToWait; kept as a named predicate for readability at call sites.
func SameTrx(requester, holder TrxID) bool { return requester == holder }

// HasToWait implements the canonical record-level wait rule set from
// §4.1. `existingOwner` and `requester` distinguish "same transaction"
// from a genuine conflict; `priority` may waive an otherwise-required
// wait on a gap conflict when commit order between the two
// transactions is already fixed (§4.1 rule 4).
func HasToWait(
	requester TrxID, newMode TypeMode,
	existingOwner TrxID, existing TypeMode,
	priority PriorityPolicy,
) bool {
	// Rule 1: same transaction, or compatible modes -> no wait.
	if SameTrx(requester, existingOwner) {
		return false
	}
	if Compatible(newMode.Mode, existing.Mode) {
		return false
	}

	// Rule 3: nothing waits for an insert-intention holder.
	if existing.Flags.has(FlagInsertIntention) {
		return false
	}

	// Rule 2: gap-vs-non-gap asymmetric resolution. A pure gap
	// requester never conflicts with a REC_NOT_GAP holder. Conversely, a
	// requester that is not itself gap-only — REC_NOT_GAP, or ordinary
	// next-key with neither flag set — never needs to wait for a pure
	// gap holder. An insert-intention requester does wait for one.
	newGapOnly := newMode.Flags.IsGapOnly() && !newMode.Flags.has(FlagInsertIntention)
	existingGapOnly := existing.Flags.IsGapOnly()
	existingRecNotGap := existing.Flags.has(FlagRecNotGap)

	if newGapOnly && existingRecNotGap {
		return false
	}
	if existingGapOnly && !newGapOnly && !newMode.Flags.has(FlagInsertIntention) {
		return false
	}

	// Rule 4: priority policy may waive a gap-only wait once commit
	// order is already fixed between requester and holder.
	if priority != nil && (newGapOnly || existingGapOnly) &&
		priority.OrderBefore(requester, existingOwner) {
		return false
	}

	return true
}

// HasToWaitPredicate is the geometry-aware variant of HasToWait used
// for spatial predicate locks (§4.1): in addition to the ordinary
// rule set, non-overlapping boxes never conflict.
func HasToWaitPredicate(
	requester TrxID, newMode TypeMode, newBox PredicateBox,
	existingOwner TrxID, existing TypeMode, existingBox PredicateBox,
	priority PriorityPolicy,
) bool {
	if !newBox.Overlaps(existingBox) {
		return false
	}
	return HasToWait(requester, newMode, existingOwner, existing, priority)
}
