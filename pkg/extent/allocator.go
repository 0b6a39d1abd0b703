package extent

import (
	"errors"
	"sync"

	"github.com/google/btree"
)

// ErrNoSpace is returned by Alloc when the free list runs out before the
// request is covered; any extents already pulled for that request are
// returned to the free list first. The caller (the cache façade) is expected
// to evict and retry; the allocator itself never evicts anything.
var ErrNoSpace = errors.New("extent: no free extents")

// ErrInvalidRequest is returned when Alloc is asked for zero bytes or the
// region is too small to ever satisfy it.
var ErrInvalidRequest = errors.New("extent: invalid allocation request")

// freeKey orders free extents by size first, offset second, so the smallest
// extent that still satisfies a request can be found with one
// AscendGreaterOrEqual scan, and ties resolve deterministically.
type freeKey struct {
	size   uint64
	offset uint64
}

func freeKeyLess(a, b freeKey) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.offset < b.offset
}

// Allocator carves a single mapped byte region into a graph of free and
// allocated extents. All header/footer writes and free-list mutations are
// serialized by mu; payload reads/writes on already-allocated extents never
// touch the allocator at all (they are guarded purely by the owning entry's
// reference count).
type Allocator struct {
	mu          sync.Mutex
	buf         []byte
	granularity uint64
	free        *btree.BTreeG[freeKey]
}

// New creates an allocator over buf, initially one single free extent
// spanning the whole region (minus the two zero-size sentinel boundary tags
// that bound coalescing at the edges of the region).
func New(buf []byte, granularity uint64) *Allocator {
	a := &Allocator{
		buf:         buf,
		granularity: granularity,
		free:        btree.NewG(32, freeKeyLess),
	}
	a.reset()
	return a
}

// reset rewrites the sentinels and the single initial free extent. Used by
// New and by the cache façade after evicting everything, to reassert the
// no-leak invariant deterministically.
func (a *Allocator) reset() {
	a.free.Clear(false)
	// Left sentinel: a zero-size, non-free footer sits at buf[0:footerSize)
	// so that the first real extent's left-neighbour lookup never reads
	// before the start of buf and never appears free.
	putTag(a.buf[0:footerSize], 0, false)
	// Right sentinel: a zero-size, non-free header at the very end.
	putTag(a.buf[len(a.buf)-headerSize:], 0, false)

	usableStart := uint64(footerSize + headerSize)
	usableEnd := uint64(len(a.buf) - footerSize - headerSize)
	size := usableEnd - usableStart
	a.writeExtent(Extent{Offset: usableStart, Length: size}, true)
	a.free.ReplaceOrInsert(freeKey{size: size, offset: usableStart})
}

// Reset reinitializes the allocator to a single free extent covering the
// whole region. Called by the cache façade on Delete / after evicting every
// entry, to reestablish the no-leak invariant deterministically rather than
// relying on every outstanding extent having actually been freed one by one.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func (a *Allocator) headerOffset(ext Extent) uint64 { return ext.Offset - headerSize }
func (a *Allocator) footerOffset(ext Extent) uint64 { return ext.End() }

func (a *Allocator) writeExtent(ext Extent, free bool) {
	putTag(a.buf[a.headerOffset(ext):a.headerOffset(ext)+headerSize], ext.Length, free)
	putTag(a.buf[a.footerOffset(ext):a.footerOffset(ext)+footerSize], ext.Length, free)
}

func (a *Allocator) roundUp(size uint64) uint64 {
	if a.granularity == 0 {
		return size
	}
	rem := size % a.granularity
	if rem == 0 {
		return size
	}
	return size + (a.granularity - rem)
}

// Alloc returns an ordered list of extents whose usable bytes sum to at
// least requestSize. When the free list is fragmented the value spans
// multiple extents; the caller writes the value linearly across them in
// order. Alloc never evicts; it fails with ErrNoSpace once the free list is
// exhausted, leaving retry-with-eviction to the caller.
func (a *Allocator) Alloc(requestSize uint64) ([]Extent, error) {
	if requestSize == 0 {
		return nil, ErrInvalidRequest
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	remaining := a.roundUp(requestSize)
	var granted []Extent

	for remaining > 0 {
		chosen, ok := a.popSmallestFit(remaining)
		if !ok {
			chosen, ok = a.popLargest()
			if !ok {
				// Nothing could be granted at all: give back whatever was
				// already pulled this call so the caller can retry a
				// smaller request or evict more, without leaking the
				// partial grant.
				for _, g := range granted {
					a.freeOneLocked(g)
				}
				return nil, ErrNoSpace
			}
		}

		if chosen.Length > remaining && chosen.Length-remaining > tagOverhead {
			// Split: leading part satisfies (part of) the request, the
			// trailing remainder goes back onto the free list as its own
			// extent (with its own fresh boundary tags).
			head := Extent{Offset: chosen.Offset, Length: remaining}
			tailOffset := head.End() + tagOverhead
			tailLen := chosen.Length - remaining - tagOverhead
			a.writeExtent(head, false)
			a.writeExtent(Extent{Offset: tailOffset, Length: tailLen}, true)
			a.free.ReplaceOrInsert(freeKey{size: tailLen, offset: tailOffset})
			granted = append(granted, head)
			remaining = 0
		} else {
			// Either an exact-ish fit, or fragmentation: the whole extent
			// is granted as one segment of a (possibly) multi-extent
			// value, and the loop continues for whatever is still owed.
			a.writeExtent(chosen, false)
			granted = append(granted, chosen)
			if chosen.Length >= remaining {
				remaining = 0
			} else {
				remaining -= chosen.Length
			}
		}
	}

	return granted, nil
}

// popSmallestFit removes and returns the smallest free extent whose size is
// >= need, if one exists.
func (a *Allocator) popSmallestFit(need uint64) (Extent, bool) {
	var found freeKey
	ok := false
	a.free.AscendGreaterOrEqual(freeKey{size: need, offset: 0}, func(k freeKey) bool {
		found = k
		ok = true
		return false
	})
	if !ok {
		return Extent{}, false
	}
	a.free.Delete(found)
	return Extent{Offset: found.offset, Length: found.size}, true
}

// popLargest removes and returns the largest free extent available,
// regardless of whether it satisfies the full request (used for the
// fragmentation path once no single extent is big enough).
func (a *Allocator) popLargest() (Extent, bool) {
	found, ok := a.free.Max()
	if !ok {
		return Extent{}, false
	}
	a.free.Delete(found)
	return Extent{Offset: found.offset, Length: found.size}, true
}

// Free marks every extent in list as free and coalesces each with any free
// physical neighbour. Extents belonging to a single multi-extent value need
// not be adjacent; each is coalesced independently.
func (a *Allocator) Free(list []Extent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ext := range list {
		a.freeOneLocked(ext)
	}
}

func (a *Allocator) freeOneLocked(ext Extent) {
	merged := ext
	// Merge left: the footer of the physically preceding extent sits
	// immediately before our header.
	for {
		headerOff := a.headerOffset(merged)
		if headerOff < footerSize {
			break
		}
		leftFooterOff := headerOff - footerSize
		size, free := readTag(a.buf[leftFooterOff : leftFooterOff+footerSize])
		if !free || size == 0 {
			break
		}
		leftOffset := leftFooterOff - size
		a.free.Delete(freeKey{size: size, offset: leftOffset})
		merged = Extent{Offset: leftOffset, Length: size + tagOverhead + merged.Length}
	}
	// Merge right: the header of the physically following extent sits
	// immediately after our footer.
	for {
		rightHeaderOff := a.footerOffset(merged) + footerSize
		if rightHeaderOff+headerSize > uint64(len(a.buf)) {
			break
		}
		size, free := readTag(a.buf[rightHeaderOff : rightHeaderOff+headerSize])
		if !free || size == 0 {
			break
		}
		rightOffset := rightHeaderOff + headerSize
		a.free.Delete(freeKey{size: size, offset: rightOffset})
		merged = Extent{Offset: merged.Offset, Length: merged.Length + tagOverhead + size}
	}

	a.writeExtent(merged, true)
	a.free.ReplaceOrInsert(freeKey{size: merged.Length, offset: merged.Offset})
}

// FreeBytes returns the total number of usable bytes currently free,
// summed across every free extent.
func (a *Allocator) FreeBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	a.free.Ascend(func(k freeKey) bool {
		total += k.size
		return true
	})
	return total
}

// FreeExtentCount returns the number of distinct free extents, used by
// tests asserting the no-leak invariant (exactly one extent after draining
// the cache).
func (a *Allocator) FreeExtentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free.Len()
}

// Read copies the bytes of ext into dst, returning the number of bytes
// copied (min(len(dst), ext.Length)).
func (a *Allocator) Read(ext Extent, dst []byte) int {
	n := copy(dst, a.buf[ext.Offset:ext.End()])
	return n
}

// Write copies src into ext's usable bytes, returning the number of bytes
// written (min(len(src), ext.Length)).
func (a *Allocator) Write(ext Extent, src []byte) int {
	n := copy(a.buf[ext.Offset:ext.End()], src)
	return n
}

// Bytes returns the backing buffer directly, for callers (the cache façade)
// that need to read/write across several extents without intermediate
// copies.
func (a *Allocator) Bytes() []byte { return a.buf }
