package farad

import (
	"sync"
	"sync/atomic"

	"github.com/watt-toolkit/farad/pkg/extent"
	"github.com/watt-toolkit/farad/pkg/lru"
)

// entry is the unit of caching: one key, its value's extent list, and the
// bookkeeping the index and replacement policy need. It is shared, via
// pointer, between the index (pkg/critnib) and the replacement policy
// (pkg/lru), both of which only ever see it through the Ref/Unref/Slot
// methods below — neither package knows what a key or an extent list is.
//
// Two independent references may be outstanding at once (the index's and
// the LRU's), plus any number of transient references acquired by Get while
// it copies bytes out. refs transitions to zero exactly once, and that
// transition is what frees the extents and drops the descriptor.
type entry struct {
	key      []byte
	extents  []extent.Extent
	size     uint64 // logical value size; <= sum of extent lengths
	refs     atomic.Int32
	evicting atomic.Bool
	slot     atomic.Pointer[lru.Node[*entry]]

	// onRelease is set once, before the entry is published to the index or
	// LRU, to the owning Cache's extent-freeing callback. It is not an
	// exported field: the cache façade is the only intended caller of
	// newEntry.
	onRelease func(*entry)
}

// entryPool recycles descriptor structs across Put/release cycles, grounded
// on capacitor/pkg/cache/memory/pool.go's entryPool.get()/put(): a
// sync.Pool of zeroed descriptors, reset on the way out instead of
// reallocated, since a cache under steady churn allocates and frees one
// descriptor per Put/evict pair.
var entryPool = sync.Pool{
	New: func() any { return &entry{} },
}

func newEntry(key []byte, extents []extent.Extent, size uint64) *entry {
	e := entryPool.Get().(*entry)
	e.key = append(e.key[:0], key...)
	e.extents = extents
	e.size = size
	e.refs.Store(1) // the caller's own transient reference
	e.evicting.Store(false)
	e.slot.Store(nil)
	e.onRelease = nil
	return e
}

// Ref implements critnib.Entry and lru.Sloter. It always succeeds while the
// entry is reachable: the "evicting" flag (see tryEvict) only arbitrates
// which caller performs the index/LRU removal, it does not gate reads. This
// is deliberate: a Get issued from inside this entry's own eviction
// callback must still observe the value, reaching this entry through a
// completely ordinary index lookup, because the entry is only actually
// removed from the index after the callback returns.
func (e *entry) Ref() bool {
	e.refs.Add(1)
	return true
}

// Unref implements critnib.Entry and lru.Sloter. It returns true exactly
// when this call dropped the last reference, and in that case it also
// performs the actual teardown (freeing extents) before returning — callers
// never need a separate "finalize" step.
func (e *entry) Unref() bool {
	if e.refs.Add(-1) == 0 {
		e.release()
		return true
	}
	return false
}

// Slot implements lru.Sloter.
func (e *entry) Slot() *atomic.Pointer[lru.Node[*entry]] { return &e.slot }

// tryEvict is the first phase of a two-phase eviction commit: a single
// false->true CAS. Losing it means another caller already owns eviction.
func (e *entry) tryEvict() (won bool) {
	return e.evicting.CompareAndSwap(false, true)
}

// release is called exactly once, by whichever Unref call observes the
// reference count transition 1->0. onRelease is set by the owning cache
// before the entry is ever published to the index or LRU. Once onRelease
// has freed the extents, the descriptor itself is reset and returned to
// entryPool for reuse by a future newEntry call.
func (e *entry) release() {
	if e.onRelease != nil {
		e.onRelease(e)
	}
	e.key = e.key[:0]
	e.extents = nil
	e.onRelease = nil
	entryPool.Put(e)
}
