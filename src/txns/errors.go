package txns

import "github.com/go-faster/errors"

// ResultCode is the outcome of a lock request, per spec §6/§7.
type ResultCode uint8

const (
	// Success: granted, no new explicit lock record was needed (an
	// existing lock already covered the request).
	Success ResultCode = iota
	// SuccessLockedRec: granted, and a new explicit lock record was
	// created (or an existing one gained a bit) to represent it.
	SuccessLockedRec
	// LockWait: the request was enqueued; the caller must block in
	// HandleWait.
	LockWait
	// LockWaitTimeout: the configured deadline elapsed before grant.
	LockWaitTimeout
	// Deadlock: this transaction was chosen as the cycle's victim.
	Deadlock
	// Interrupted: the SQL layer cancelled the wait externally.
	Interrupted
)

func (r ResultCode) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case SuccessLockedRec:
		return "SUCCESS_LOCKED_REC"
	case LockWait:
		return "LOCK_WAIT"
	case LockWaitTimeout:
		return "LOCK_WAIT_TIMEOUT"
	case Deadlock:
		return "DEADLOCK"
	case Interrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrNoSuchTransaction is returned by lookups against a trx table
	// entry that was already released.
	ErrNoSuchTransaction = errors.New("txns: no such transaction")
	// ErrLockNotHeld is returned by RecUnlock/table-unlock calls that
	// target a lock the transaction does not actually hold.
	ErrLockNotHeld = errors.New("txns: lock not held")
)
