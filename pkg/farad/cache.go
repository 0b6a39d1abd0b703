// Package farad implements the cache façade: orchestration of put/get/evict
// over the extent allocator (pkg/extent), the sharded critnib index
// (pkg/critnib), and the LRU replacement policy (pkg/lru).
//
// Every operation is context-scoped, configuration goes through a
// builder-style Config, and failures surface as a *CacheError wrapping one
// of a fixed set of sentinel errors. The cache itself stores exactly one
// opaque []byte value per key, spilled across a single memory-mapped
// region.
package farad

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	"github.com/watt-toolkit/farad/pkg/critnib"
	"github.com/watt-toolkit/farad/pkg/extent"
	"github.com/watt-toolkit/farad/pkg/lru"
)

// EvictFunc is invoked synchronously, on the calling goroutine, whenever an
// entry is evicted, before its references are dropped. The entry is still in
// the index while the callback runs, so it may call Get on this same *Cache
// to read the value being evicted, and Put it into a different *Cache (for
// example to demote it into a second-level cache).
type EvictFunc func(ctx context.Context, key []byte, arg any)

// MissFunc is invoked synchronously from Get when key is absent. It may
// call Put on this same *Cache with the same key to satisfy the
// outstanding Get in-line; calling Get on this same *Cache returns
// ErrReentrantGet.
type MissFunc func(ctx context.Context, key []byte, arg any)

type callback struct {
	evict    EvictFunc
	evictArg any
	miss     MissFunc
	missArg  any
}

// Cache is one instance of the façade: fixed configuration once ready, a
// mapped region, an allocator, an index, an optional LRU policy, callbacks,
// and counters.
type Cache struct {
	cfg *Config

	region *region
	alloc  *extent.Allocator
	index  *critnib.Index[*entry]
	policy *lru.Policy[*entry]

	callbacks atomic.Pointer[callback]

	stats stats
	ready atomic.Bool
}

// New returns an unconfigured, not-ready Cache. Callers configure it via
// cfg (see NewConfig) and then call Add.
func New(cfg *Config) *Cache {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Cache{cfg: cfg}
}

// Add creates (or reuses) the backing file under dir, maps it, and
// transitions the cache to ready. Must be called exactly once before any
// other operation except the Config setters.
func (c *Cache) Add(_ context.Context, dir string) error {
	if c.ready.Load() {
		return ErrAlreadyReady
	}
	reg, err := openRegion(dir, c.cfg.Size())
	if err != nil {
		return err
	}

	c.region = reg
	c.alloc = extent.New(reg.buf, c.cfg.ExtentSize())
	c.index = critnib.New[*entry]()
	if c.cfg.Policy() == PolicyLRU {
		c.policy = lru.New[*entry]()
	}
	c.cfg.ready = true
	c.ready.Store(true)
	return nil
}

// Delete evicts every entry (under PolicyNone, entries are dropped without
// eviction or eviction callbacks), unmaps the region, and removes the
// backing file. The cache may be Add-ed again afterward; its Config's
// setters accept changes again until then.
func (c *Cache) Delete(ctx context.Context) error {
	if !c.ready.Load() {
		return ErrNotReady
	}

	if c.cfg.Policy() == PolicyLRU {
		for {
			if err := c.evictVictimOnce(ctx); err != nil {
				break
			}
		}
	}
	// Whatever remains (only possible under PolicyNone, which keeps no
	// enumerable order) is reclaimed in bulk: reset restores the
	// allocator to a single free extent covering the whole pool, so no
	// bytes stay pinned once Delete returns.
	c.alloc.Reset()
	c.index = critnib.New[*entry]()
	c.policy = nil
	c.cfg.ready = false
	c.ready.Store(false)
	return c.region.close()
}

// OnEvict installs the eviction observer. May be called at any time,
// including before Add or while the cache is in active use; installing a
// new callback replaces the previous one.
func (c *Cache) OnEvict(fn EvictFunc, arg any) {
	c.swapCallback(func(cb *callback) { cb.evict = fn; cb.evictArg = arg })
}

// OnMiss installs the miss observer.
func (c *Cache) OnMiss(fn MissFunc, arg any) {
	c.swapCallback(func(cb *callback) { cb.miss = fn; cb.missArg = arg })
}

func (c *Cache) swapCallback(mutate func(*callback)) {
	for {
		old := c.callbacks.Load()
		next := &callback{}
		if old != nil {
			*next = *old
		}
		mutate(next)
		if c.callbacks.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *Cache) evictCallback() (EvictFunc, any) {
	cb := c.callbacks.Load()
	if cb == nil || cb.evict == nil {
		return nil, nil
	}
	return cb.evict, cb.evictArg
}

func (c *Cache) missCallback() (MissFunc, any) {
	cb := c.callbacks.Load()
	if cb == nil || cb.miss == nil {
		return nil, nil
	}
	return cb.miss, cb.missArg
}

// Stat returns the current value of one counter.
func (c *Cache) Stat(s Stat) uint64 { return c.stats.get(s) }

// --- pending-get: the in-line miss-satisfaction shortcut ---

// pendingGet replaces what a thread-local "pending get" record would do in
// a language with implicit per-thread state: an explicit value threaded
// through ctx instead. Get sets it before calling the miss callback, and a
// Put issued from inside that callback (on this same *Cache) looks for it.
type pendingGet struct {
	key       []byte
	value     []byte
	satisfied bool
}

// pendingKey is a context key type scoped to one *Cache instance (by
// pointer identity), so a pending-get set by one cache's Get is invisible
// to a sibling cache's Put even if both are reached through the same ctx
// (an eviction callback that demotes into a different *Cache relies on
// exactly this isolation).
type pendingKey struct{ c *Cache }

func (c *Cache) withPending(ctx context.Context, p *pendingGet) context.Context {
	return context.WithValue(ctx, pendingKey{c}, p)
}

func (c *Cache) pendingFrom(ctx context.Context) *pendingGet {
	p, _ := ctx.Value(pendingKey{c}).(*pendingGet)
	return p
}

// --- Put ---

// Put inserts key/value. It never replaces an existing key (ErrAlreadyExists).
// If value exceeds the pool size it fails with ErrTooLarge. If the
// allocator cannot satisfy the request, Put evicts the current LRU victim
// and retries until it can, or until there is nothing left to evict
// (ErrNoSpace).
func (c *Cache) Put(ctx context.Context, key, value []byte) error {
	if !c.ready.Load() {
		return ErrNotReady
	}
	if len(key) == 0 {
		return wrapErr("Put", key, fmt.Errorf("%w: empty key", ErrInvalidArgument))
	}

	if pending := c.pendingFrom(ctx); pending != nil && !pending.satisfied && bytes.Equal(pending.key, key) {
		// In-line shortcut: satisfy the outstanding Get directly from value
		// without ever touching the index.
		pending.value = append([]byte(nil), value...)
		pending.satisfied = true
		c.stats.puts.Add(1)
		return nil
	}

	if uint64(len(value)) > c.cfg.Size() {
		return wrapErr("Put", key, ErrTooLarge)
	}

	for {
		var exts []extent.Extent
		var err error
		if len(value) == 0 {
			// A zero-length value needs no backing bytes at all; the
			// allocator's Alloc rejects a zero-size request outright, so
			// this is handled before ever calling it.
			exts, err = nil, nil
		} else {
			exts, err = c.alloc.Alloc(uint64(len(value)))
		}
		if err == nil {
			writeValue(c.alloc, exts, value)
			e := newEntry(key, exts, uint64(len(value)))
			e.onRelease = c.releaseEntry

			if !c.index.InsertIfAbsent(key, e) {
				// Undo: nothing has been published anywhere yet, so a
				// direct Free (not e.Unref) is correct and does not risk
				// a second, entry-driven free later. The descriptor itself
				// was never handed to anyone else either, so it goes back
				// to entryPool exactly like a normal release would.
				e.onRelease = nil
				c.alloc.Free(exts)
				e.key = e.key[:0]
				e.extents = nil
				entryPool.Put(e)
				return wrapErr("Put", key, ErrAlreadyExists)
			}

			if c.cfg.Policy() == PolicyLRU {
				c.policy.Insert(e)
			}
			e.Unref() // drop the transient reference newEntry started with
			c.stats.puts.Add(1)
			c.stats.dramBytes.Add(int64(len(key)))
			return nil
		}
		if c.cfg.Policy() != PolicyLRU {
			return wrapErr("Put", key, ErrNoSpace)
		}
		if evictErr := c.evictVictimOnce(ctx); evictErr != nil {
			return wrapErr("Put", key, ErrNoSpace)
		}
	}
}

// releaseEntry is entry.onRelease: it runs exactly once, when an entry's
// reference count transitions 1->0, and frees its extents back to the
// allocator. The value bytes themselves live in the mapped pool, not in
// DRAM, so only the key's process-memory footprint is un-accounted here.
func (c *Cache) releaseEntry(e *entry) {
	c.alloc.Free(e.extents)
	c.stats.dramBytes.Add(-int64(len(e.key)))
}

// --- Get ---

// Get copies up to len(buf) bytes of key's value, starting at offset, into
// buf, and returns the number of bytes copied and the value's full logical
// size. A nil buf copies nothing but still reports size. Returns
// ErrNotFound (wrapped) on a miss not satisfied by an installed MissFunc.
func (c *Cache) Get(ctx context.Context, key, buf []byte, offset int) (n int, size int, err error) {
	if !c.ready.Load() {
		return 0, 0, ErrNotReady
	}
	if c.pendingFrom(ctx) != nil {
		return 0, 0, wrapErr("Get", key, ErrReentrantGet)
	}

	if e, ok := c.index.Lookup(key); ok {
		defer e.Unref()
		if c.cfg.Policy() == PolicyLRU {
			c.policy.Touch(e)
		}
		n, size = readEntry(c.alloc, e, buf, offset)
		c.stats.gets.Add(1)
		return n, size, nil
	}

	c.stats.gets.Add(1)
	c.stats.misses.Add(1)

	missFn, missArg := c.missCallback()
	if missFn == nil {
		return 0, 0, wrapErr("Get", key, ErrNotFound)
	}

	pending := &pendingGet{key: append([]byte(nil), key...)}
	missCtx := c.withPending(ctx, pending)
	missFn(missCtx, key, missArg)

	if pending.satisfied {
		n, size = copyBytes(pending.value, buf, offset)
		return n, size, nil
	}
	return 0, 0, wrapErr("Get", key, ErrNotFound)
}

// Exists reports whether key is currently present, without touching the
// replacement policy.
func (c *Cache) Exists(_ context.Context, key []byte) (bool, error) {
	if !c.ready.Load() {
		return false, ErrNotReady
	}
	e, ok := c.index.Lookup(key)
	if ok {
		e.Unref()
	}
	return ok, nil
}

// --- Evict ---

// Evict removes a specific key. A concurrent Evict of the same key by
// another caller is not an error: the loser returns nil.
func (c *Cache) Evict(ctx context.Context, key []byte) error {
	if !c.ready.Load() {
		return ErrNotReady
	}
	e, ok := c.index.Lookup(key)
	if !ok {
		return wrapErr("Evict", key, ErrNotFound)
	}
	if !e.tryEvict() {
		e.Unref() // release our transient ref; idempotent success for the loser
		return nil
	}

	evictFn, evictArg := c.evictCallback()
	if evictFn != nil {
		evictFn(ctx, key, evictArg)
	}

	c.index.Remove(key)
	if c.cfg.Policy() == PolicyLRU {
		c.policy.Remove(e)
	}
	e.Unref()
	c.stats.evictions.Add(1)
	return nil
}

// EvictVictim evicts the current least-recently-used entry. Fails with
// ErrNoVictim if the policy is PolicyNone or the LRU is empty. No entry is
// ever skipped as pinned: the list's tail is always taken.
func (c *Cache) EvictVictim(ctx context.Context) error {
	if !c.ready.Load() {
		return ErrNotReady
	}
	if c.cfg.Policy() != PolicyLRU {
		return wrapErr("Evict", nil, ErrNoVictim)
	}
	return c.evictVictimOnce(ctx)
}

// evictVictimOnce pops one victim from the LRU and commits its eviction.
// Returns ErrNoVictim if the list (and its touch ring) are both empty.
func (c *Cache) evictVictimOnce(ctx context.Context) error {
	victim, _, ok := c.policy.EvictVictim()
	if !ok {
		return wrapErr("Evict", nil, ErrNoVictim)
	}
	if !victim.tryEvict() {
		// Another caller already won the race to evict this exact entry
		// via Evict(key); our only job here (detaching it from the LRU
		// list) is already done.
		return nil
	}

	evictFn, evictArg := c.evictCallback()
	if evictFn != nil {
		evictFn(ctx, victim.key, evictArg)
	}

	c.index.Remove(victim.key)
	c.stats.evictions.Add(1)
	return nil
}

// --- byte copying helpers ---

// writeValue copies value linearly across exts, in order: a value spans
// several extents only when Alloc had to fragment it, and each is filled
// before moving to the next.
func writeValue(alloc *extent.Allocator, exts []extent.Extent, value []byte) {
	buf := alloc.Bytes()
	pos := 0
	for _, ext := range exts {
		n := int(ext.Length)
		if pos+n > len(value) {
			n = len(value) - pos
		}
		if n <= 0 {
			break
		}
		copy(buf[ext.Offset:ext.Offset+uint64(n)], value[pos:pos+n])
		pos += n
	}
}

// readEntry copies up to len(dst) bytes of e's logical value starting at
// offset into dst. offset >= size copies zero bytes (still a hit), a short
// dst truncates rather than erroring, and a nil dst copies nothing but
// still reports size.
func readEntry(alloc *extent.Allocator, e *entry, dst []byte, offset int) (n int, size int) {
	size = int(e.size)
	if offset < 0 {
		offset = 0
	}
	if offset >= size || dst == nil {
		return 0, size
	}

	want := len(dst)
	if avail := size - offset; want > avail {
		want = avail
	}

	buf := alloc.Bytes()
	skip := offset
	copied := 0
	for _, ext := range e.extents {
		extLen := int(ext.Length)
		if skip >= extLen {
			skip -= extLen
			continue
		}
		start := int(ext.Offset) + skip
		avail := extLen - skip
		skip = 0
		n := avail
		if copied+n > want {
			n = want - copied
		}
		copy(dst[copied:copied+n], buf[start:start+n])
		copied += n
		if copied >= want {
			break
		}
	}
	return copied, size
}

// copyBytes is readEntry's equivalent for the in-line miss-satisfaction
// shortcut, where the source is a plain []byte rather than an entry's
// extent list.
func copyBytes(value, dst []byte, offset int) (n int, size int) {
	size = len(value)
	if offset < 0 {
		offset = 0
	}
	if offset >= size || dst == nil {
		return 0, size
	}
	n = copy(dst, value[offset:])
	return n, size
}
