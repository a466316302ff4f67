package txns

import (
	"sync"

	"github.com/go-faster/errors"
	"github.com/panjf2000/ants"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bellwood-io/rowlock/src/bufferpool"
	"github.com/bellwood-io/rowlock/src/cfg"
	"github.com/bellwood-io/rowlock/src/pkg/optional"
)

// tableDesc is the lock system's per-table bookkeeping: which
// transaction (if any) currently owns the table's AUTO_INC lock.
type tableDesc struct {
	autoInc optional.Optional[TrxID]
}

// LockSys is the external interface spec §6 describes: the single
// entry point through which the B-tree, the transaction subsystem, and
// the SQL layer all request and release locks. It owns the mutex
// hierarchy spec §5 documents — ls.mu ("lock_sys.mutex") is always
// acquired before a transaction's own mu, and waitSem bounds how many
// transactions may be blocked in HandleWait concurrently.
type LockSys struct {
	mu sync.Mutex

	cfg      cfg.LockSysConfig
	store    *LockStore
	trxs     map[TrxID]*Transaction
	tables   map[TableID]*tableDesc
	policy   PriorityPolicy
	counters *Counters
	log      *zap.SugaredLogger
	hotPages *bufferpool.HotPageTracker
	pins     *bufferpool.PinRegistry[TrxID]
	implicit ImplicitHolder

	pool    *ants.Pool
	waitSem *semaphore.Weighted

	closed bool
}

// Option customizes Create's construction, mirroring the teacher's
// functional-option style for optional collaborators.
type Option func(*LockSys)

// WithPolicy installs a non-default PriorityPolicy.
func WithPolicy(p PriorityPolicy) Option {
	return func(ls *LockSys) { ls.policy = p }
}

// WithLogger installs a non-default zap logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(ls *LockSys) { ls.log = l }
}

// WithMeter wires C8's counters to a real OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(ls *LockSys) {
		c, err := NewCounters(m, ls.log)
		if err == nil {
			ls.counters = c
		}
	}
}

// WithImplicitHolder installs the callback bridging MVCC's implicit
// row ownership into the explicit lock table (C7).
func WithImplicitHolder(h ImplicitHolder) Option {
	return func(ls *LockSys) { ls.implicit = h }
}

// Create builds a lock system sized for cellCount hash-chain slots, the
// spec §6 constructor (`lock_sys_create`).
func Create(config cfg.LockSysConfig, opts ...Option) (*LockSys, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid lock system config")
	}

	pool, err := ants.NewPool(1024)
	if err != nil {
		return nil, errors.Wrap(err, "creating waiter goroutine pool")
	}

	ls := &LockSys{
		cfg:      config,
		store:    NewLockStore(config.CellCount),
		trxs:     make(map[TrxID]*Transaction),
		tables:   make(map[TableID]*tableDesc),
		policy:   NoopPolicy{},
		log:      zap.NewNop().Sugar(),
		hotPages: bufferpool.NewHotPageTracker(256),
		pins:     bufferpool.NewPinRegistry[TrxID](),
		pool:     pool,
		waitSem:  semaphore.NewWeighted(4096),
	}
	for _, opt := range opts {
		opt(ls)
	}
	if ls.counters == nil {
		ls.counters, _ = NewCounters(nil, ls.log)
	}

	return ls, nil
}

// Resize records a new cell count for the lock table (spec §6
// `lock_sys_resize`); see LockStore.Resize for why no lock moves.
func (ls *LockSys) Resize(cellCount uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.store.Resize(cellCount)
	ls.cfg.CellCount = cellCount
}

// Close releases the waiter goroutine pool. It does not touch any
// still-registered transaction; callers must Release every transaction
// first.
func (ls *LockSys) Close() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return
	}
	ls.closed = true
	ls.pool.Release()
}

// Begin registers a new transaction with the lock system and returns
// it, the entry point every one of §6's per-transaction calls assumes
// has already run.
func (ls *LockSys) Begin(id TrxID) *Transaction {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	t := NewTransaction(id)
	ls.trxs[id] = t
	return t
}

func (ls *LockSys) lookupTrx(id TrxID) (*Transaction, error) {
	t, ok := ls.trxs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchTransaction, "trx %d", id)
	}
	return t, nil
}

func (ls *LockSys) descFor(table TableID) *tableDesc {
	d, ok := ls.tables[table]
	if !ok {
		d = &tableDesc{}
		ls.tables[table] = d
	}
	return d
}

// InsertCheckAndLock is §6's insert-time hook: it takes an
// insert-intention gap lock ahead of the record being inserted so a
// concurrent inserter targeting the same gap conflicts correctly.
func (ls *LockSys) InsertCheckAndLock(trx *Transaction, table TableID, page PageID, heapCount int, heap HeapNo) ResultCode {
	mode := TypeMode{Mode: LockX, Flags: FlagGap | FlagInsertIntention}
	return ls.LockRecord(trx, table, page, heapCount, heap, mode)
}

// ClustRecModifyCheckAndLock takes the REC_NOT_GAP X lock a clustered
// index update or delete requires.
func (ls *LockSys) ClustRecModifyCheckAndLock(trx *Transaction, table TableID, page PageID, heapCount int, heap HeapNo) ResultCode {
	mode := TypeMode{Mode: LockX, Flags: FlagRecNotGap}
	return ls.LockRecord(trx, table, page, heapCount, heap, mode)
}

// SecRecModifyCheckAndLock is ClustRecModifyCheckAndLock's secondary-
// index counterpart.
func (ls *LockSys) SecRecModifyCheckAndLock(trx *Transaction, table TableID, page PageID, heapCount int, heap HeapNo) ResultCode {
	return ls.ClustRecModifyCheckAndLock(trx, table, page, heapCount, heap)
}

// ClustRecReadCheckAndLock takes a next-key or REC_NOT_GAP lock (per
// gapMode) for a locking read on a clustered index record.
func (ls *LockSys) ClustRecReadCheckAndLock(trx *Transaction, table TableID, page PageID, heapCount int, heap HeapNo, mode BaseMode, gap Flags) ResultCode {
	return ls.LockRecord(trx, table, page, heapCount, heap, TypeMode{Mode: mode, Flags: gap})
}

// SecRecReadCheckAndLock is ClustRecReadCheckAndLock's secondary-index
// counterpart; it additionally locks the clustered index's matching
// record when primary is non-nil, per spec §6/original_source.
func (ls *LockSys) SecRecReadCheckAndLock(trx *Transaction, table TableID, page PageID, heapCount int, heap HeapNo, mode BaseMode, gap Flags, primary *PageID, primaryHeapCount int, primaryHeap HeapNo) ResultCode {
	r := ls.LockRecord(trx, table, page, heapCount, heap, TypeMode{Mode: mode, Flags: gap})
	if r == LockWait || primary == nil {
		return r
	}
	return ls.LockRecord(trx, table, *primary, primaryHeapCount, primaryHeap, TypeMode{Mode: mode, Flags: FlagRecNotGap})
}

// RecUnlock releases a single record lock trx holds on (page, heap),
// re-granting any now-unblocked waiter on that page. It is the one
// early-release primitive spec §6 exposes outside full trx release
// (used for a read-committed statement's non-matching rows).
func (ls *LockSys) RecUnlock(trx *Transaction, page PageID, heap HeapNo) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var target *Lock
	for e := trx.locks.Front(); e != nil; e = e.Next() {
		l := e.Value.(*Lock)
		if l.Kind == KindRecord && l.Page == page && !l.Waiting() && l.Bitmap.Test(heap) {
			target = l
			break
		}
	}
	if target == nil {
		return errors.Wrapf(ErrLockNotHeld, "trx %d page %+v heap %d", trx.ID, page, heap)
	}

	target.Bitmap.Clear(heap)
	flags := target.TypeMode.Flags
	if target.Bitmap.Empty() {
		ls.store.Remove(target)
		ls.counters.recLockRemoved()
	}
	ls.dequeueAndGrant(page, flags)
	return nil
}

// LockTableForTrx is LockTable with transaction lookup by ID, the
// shape §6 gives external callers that only carry a TrxID.
func (ls *LockSys) LockTableForTrx(id TrxID, table TableID, mode BaseMode) (ResultCode, error) {
	ls.mu.Lock()
	trx, err := ls.lookupTrx(id)
	ls.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return ls.LockTable(trx, table, mode), nil
}

// LockTableResurrect re-installs a table lock for a transaction that
// is being recovered (spec §6), skipping conflict/wait logic entirely:
// recovery always wins.
func (ls *LockSys) LockTableResurrect(trx *Transaction, table TableID, mode BaseMode) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	l := trx.Arena.New()
	l.Trx = trx.ID
	l.Kind = KindTable
	l.TypeMode = TypeMode{Mode: mode}
	l.Table = table
	ls.store.Insert(l, trx)
	trx.TableLockCount++
}

// LockTableXUnlock releases exactly one X table lock trx holds on
// table, per §6.
func (ls *LockSys) LockTableXUnlock(trx *Transaction, table TableID) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for e := trx.locks.Front(); e != nil; e = e.Next() {
		l := e.Value.(*Lock)
		if l.Kind == KindTable && l.Table == table && l.TypeMode.Mode == LockX && !l.Waiting() {
			ls.store.Remove(l)
			trx.TableLockCount--
			ls.dequeueAndGrantTable(table)
			return nil
		}
	}
	return errors.Wrapf(ErrLockNotHeld, "trx %d table %d mode X", trx.ID, table)
}

// UnlockTableAutoInc releases trx's most recently acquired AUTO_INC
// table lock, per spec §3 invariant 8's LIFO discipline.
func (ls *LockSys) UnlockTableAutoInc(trx *Transaction) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	table, ok := trx.PopAutoInc()
	if !ok {
		return
	}
	for e := trx.locks.Front(); e != nil; e = e.Next() {
		l := e.Value.(*Lock)
		if l.Kind == KindTable && l.Table == table && l.TypeMode.Mode == LockAutoInc && !l.Waiting() {
			ls.store.Remove(l)
			trx.TableLockCount--
			if d, ok := ls.tables[table]; ok && d.autoInc.IsSome() && d.autoInc.Unwrap() == trx.ID {
				d.autoInc.Clear()
			}
			ls.dequeueAndGrantTable(table)
			return
		}
	}
}

// Release drops every lock trx holds, re-granting each affected page's
// and table's waiters, then bulk-frees the transaction's lock arena
// (spec §3's O(1) release guarantee) and forgets the transaction.
func (ls *LockSys) Release(trx *Transaction) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	type touched struct {
		page  PageID
		flags Flags
		table TableID
		isRec bool
	}
	var affected []touched

	for e := trx.locks.Front(); e != nil; {
		next := e.Next()
		l := e.Value.(*Lock)
		if !l.Waiting() {
			if l.Kind == KindRecord {
				affected = append(affected, touched{page: l.Page, flags: l.TypeMode.Flags, isRec: true})
			} else {
				affected = append(affected, touched{table: l.Table})
			}
		}
		ls.store.Remove(l)
		ls.counters.recLockRemoved()
		e = next
	}

	trx.Arena.Reset()
	trx.State = TrxCommittedInMemory
	delete(ls.trxs, trx.ID)

	for _, a := range affected {
		if a.isRec {
			ls.dequeueAndGrant(a.page, a.flags)
		} else {
			ls.dequeueAndGrantTable(a.table)
		}
	}
}
