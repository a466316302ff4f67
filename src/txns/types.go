// Package txns implements the transactional lock manager: the lock
// table, its mode algebra, the wait/grant/cancel state machine, the
// deadlock detector, and the B-tree-event lock migration routines. The
// B-tree, buffer pool, transaction subsystem, dictionary cache, MVCC
// subsystem, SQL layer, and replication integration are external
// collaborators, referenced here only through the small interfaces
// each component actually needs (PriorityPolicy, ImplicitHolder, and
// the page.RecordPage stand-in for a leaf page's heap numbers).
package txns

import "github.com/bellwood-io/rowlock/src/pkg/common"

// TrxID is a monotonically increasing, globally unique transaction
// identifier.
type TrxID uint64

// TableID identifies a table (or index) for table-level and granular
// intent locking.
type TableID uint64

// TrxState mirrors the subset of transaction state the lock manager
// cares about.
type TrxState uint8

const (
	TrxActive TrxState = iota
	TrxPrepared
	TrxCommittedInMemory
)

// PageID and HeapNo are re-exported for callers that only import txns.
type PageID = common.PageID
type HeapNo = common.HeapNo

const (
	InfimumHeapNo  = common.InfimumHeapNo
	SupremumHeapNo = common.SupremumHeapNo
)
