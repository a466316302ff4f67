package txns

// LockArena is a per-transaction bump allocator for Lock objects: a
// small inline chunk backs the common case of a transaction holding
// only a handful of locks, with additional chunks allocated on
// overflow. It exists to give Release(trx) the O(1) bulk-free spec §3
// promises — dropping the arena's chunk slices is enough; there is no
// per-lock deallocation to perform. Go has no manual heap to free
// early, so "free" here just means "stop referencing"; the chunked
// layout is what keeps per-lock allocation cost low relative to one
// `new(Lock)` per request, which is the property spec §3 actually
// cares about.
type LockArena struct {
	chunkSize int
	chunks    [][]Lock
	next      int // index of the next free slot in the last chunk
}

const defaultArenaChunkSize = 16

func NewLockArena() *LockArena {
	a := &LockArena{chunkSize: defaultArenaChunkSize}
	a.chunks = append(a.chunks, make([]Lock, a.chunkSize))
	return a
}

// New returns a zero-valued *Lock carved out of the arena.
func (a *LockArena) New() *Lock {
	last := a.chunks[len(a.chunks)-1]
	if a.next == len(last) {
		a.chunks = append(a.chunks, make([]Lock, a.chunkSize))
		a.next = 0
		last = a.chunks[len(a.chunks)-1]
	}
	l := &last[a.next]
	a.next++
	*l = Lock{}
	return l
}

// Reset drops every chunk, freeing all locks the arena ever produced in
// one O(1) step (Release(trx) calls this once every lock has been
// unlinked from the shared hash chains and table lists).
func (a *LockArena) Reset() {
	a.chunks = a.chunks[:0]
	a.chunks = append(a.chunks, make([]Lock, a.chunkSize))
	a.next = 0
}
