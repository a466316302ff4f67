package txns

import "container/list"

// LockKind distinguishes a record lock (bitmap over one page) from a
// table lock (a single mode on one table).
type LockKind uint8

const (
	KindRecord LockKind = iota
	KindTable
)

// Lock is one lock object: either a per-(transaction, page) bitmap of
// record locks, or a per-(transaction, table) table lock, per spec §3.
// The three list-element fields are the intrusive linkage the original
// engine keeps inline in the lock struct; here they are pointers into
// container/list so chain and list mutation stay O(1) without
// hand-rolled pointer surgery.
type Lock struct {
	Trx      TrxID
	Kind     LockKind
	TypeMode TypeMode

	// Record lock payload.
	Page   PageID
	Bitmap *HeapBitmap
	Box    PredicateBox // only meaningful when TypeMode.Flags has FlagPredicate

	// Table lock payload.
	Table TableID

	hashElem  *list.Element // element in one of LockStore's three hash chains
	trxElem   *list.Element // element in the owning transaction's lock list
	trxList   *list.List    // the list trxElem belongs to (trx.locks)
	tableElem *list.Element // element in the table's lock list (table locks only)
}

// Waiting reports whether this lock is still queued.
func (l *Lock) Waiting() bool { return l.TypeMode.Waiting() }

// hashBucket selects which of the three chains a record lock belongs
// to, per spec §4.2.
func hashBucket(f Flags) int {
	switch {
	case f.has(FlagPredicatePage):
		return 2
	case f.has(FlagPredicate):
		return 1
	default:
		return 0
	}
}

// LockStore is the lock record store (C2): three open-addressed-by-fold
// hash tables for record locks (ordinary / spatial predicate /
// predicate page), plus each table's intrusive lock list. All mutation
// happens under the owning LockSys's global mutex; LockStore itself
// holds no lock.
type LockStore struct {
	chains    [3]map[uint64]*list.List // rec_hash, prdt_hash, prdt_page_hash
	tables    map[TableID]*list.List
	cellCount uint64
}

func NewLockStore(cellCount uint64) *LockStore {
	if cellCount == 0 {
		cellCount = 1
	}
	s := &LockStore{
		tables:    make(map[TableID]*list.List),
		cellCount: cellCount,
	}
	for i := range s.chains {
		s.chains[i] = make(map[uint64]*list.List)
	}
	return s
}

// Resize records a new cell count; it does not rehash the chains. Go's
// built-in maps already grow themselves; what Resize preserves here is
// the external contract (a caller may tune capacity up front) without
// disturbing any lock identity — every *Lock pointer, and every list
// element, survives untouched.
func (s *LockStore) Resize(cellCount uint64) {
	if cellCount == 0 {
		cellCount = 1
	}
	s.cellCount = cellCount
}

func (s *LockStore) chainFor(f Flags) map[uint64]*list.List {
	return s.chains[hashBucket(f)]
}

// GetFirst returns the hash chain for page's fold, creating it lazily
// only on Insert. A nil return means no locks exist on that page in
// this chain.
func (s *LockStore) GetFirst(f Flags, page PageID) *list.List {
	return s.chainFor(f)[page.Fold()]
}

// Insert adds l to the appropriate hash chain and to its owning
// transaction's lock list (and to the table's list, for table locks).
func (s *LockStore) Insert(l *Lock, trx *Transaction) {
	if l.Kind == KindRecord {
		m := s.chainFor(l.TypeMode.Flags)
		fold := l.Page.Fold()
		ch, ok := m[fold]
		if !ok {
			ch = list.New()
			m[fold] = ch
		}
		l.hashElem = ch.PushBack(l)
	} else {
		tl, ok := s.tables[l.Table]
		if !ok {
			tl = list.New()
			s.tables[l.Table] = tl
		}
		l.tableElem = tl.PushBack(l)
	}
	l.trxElem = trx.locks.PushBack(l)
	l.trxList = trx.locks
}

// Remove detaches l from every list it participates in. It does not
// touch the owning transaction's bookkeeping beyond the list itself.
func (s *LockStore) Remove(l *Lock) {
	if l.hashElem != nil {
		m := s.chainFor(l.TypeMode.Flags)
		fold := l.Page.Fold()
		if ch, ok := m[fold]; ok {
			ch.Remove(l.hashElem)
			if ch.Len() == 0 {
				delete(m, fold)
			}
		}
		l.hashElem = nil
	}
	if l.tableElem != nil {
		if tl, ok := s.tables[l.Table]; ok {
			tl.Remove(l.tableElem)
			if tl.Len() == 0 {
				delete(s.tables, l.Table)
			}
		}
		l.tableElem = nil
	}
	if l.trxElem != nil {
		if l.trxList != nil {
			l.trxList.Remove(l.trxElem)
		}
		l.trxElem = nil
		l.trxList = nil
	}
}

// TableLocks returns the table's intrusive lock list, or nil.
func (s *LockStore) TableLocks(t TableID) *list.List {
	return s.tables[t]
}

// ForEachOnPage walks every lock in page's chain (across every
// transaction and mode), invoking fn. fn must not mutate the chain.
func ForEachOnPage(chain *list.List, page PageID, fn func(*Lock)) {
	if chain == nil {
		return
	}
	for e := chain.Front(); e != nil; e = e.Next() {
		l := e.Value.(*Lock)
		if l.Page == page {
			fn(l)
		}
	}
}
