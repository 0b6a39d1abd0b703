package critnib

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// writerDelta is added to the high 32 bits of state by a writer, and
// subtracted (via two's-complement) on release. Keeping reader count in the
// low 32 bits and writer count in the high 32 bits lets a single
// atomic.Uint64 answer "is a writer active" with one load: state>>32 != 0.
const writerDelta = uint64(1) << 32

// rwlock is a hybrid reader/writer lock: the uncontended read path is a
// single atomic fetch-add/fetch-sub with no mutex acquisition at all: a
// reader only falls back to mu once it observes a writer bit already set.
// Writers always take mu, so writer/writer exclusion is ordinary mutual
// exclusion, while writer/reader exclusion is arbitrated by the shared
// state word.
type rwlock struct {
	state atomic.Uint64
	mu    sync.Mutex
}

// rLock acquires the lock for reading. The fast path never blocks on mu: it
// only does so when a writer is already active, at which point it waits on
// mu (which the writer holds) before retrying.
func (l *rwlock) rLock() {
	for {
		l.state.Add(1)
		if l.state.Load()>>32 == 0 {
			return
		}
		// A writer is active or arrived just after our fetch-add: back out
		// and wait for it to finish before retrying.
		l.state.Add(^uint64(0))
		l.mu.Lock()
		l.mu.Unlock()
	}
}

// rUnlock releases a read lock acquired by rLock.
func (l *rwlock) rUnlock() {
	l.state.Add(^uint64(0))
}

// lock acquires the lock for writing. The writer announces itself in the
// high half first, so that no reader arriving after this point can take the
// fast path; it then spins until the low half (the fast readers already in
// flight) drains to zero before taking mu. Writers serialize against each
// other on mu exactly as readers on the slow path do.
func (l *rwlock) lock() {
	l.state.Add(writerDelta)
	for l.state.Load()&0xffffffff != 0 {
		runtime.Gosched()
	}
	l.mu.Lock()
}

// unlock releases a write lock acquired by lock.
func (l *rwlock) unlock() {
	l.mu.Unlock()
	l.state.Add(^writerDelta + 1)
}
