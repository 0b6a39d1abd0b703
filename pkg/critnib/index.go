// Package critnib implements a sharded, length-prefixed critbit radix trie
// used as the cache's key index.
//
// Keys are distributed across a fixed number of shards by an FNV-1a hash, so
// that writers contending on different keys rarely contend on the same
// shard's lock. Each shard is a standalone nibble-radix critbit trie guarded
// by a hybrid atomic/mutex reader-writer lock (rwlock), so uncontended reads
// never take the mutex at all.
package critnib

// ShardCount is the fixed number of independent tries the index is split
// into.
const ShardCount = 256

type shard[E Entry] struct {
	lock rwlock
	t    trie[E]
}

// Index is the sharded key index. The zero value is not usable; use New.
type Index[E Entry] struct {
	shards [ShardCount]*shard[E]
}

// New returns an empty, ready-to-use Index.
func New[E Entry]() *Index[E] {
	idx := &Index[E]{}
	for i := range idx.shards {
		idx.shards[i] = &shard[E]{}
	}
	return idx
}

func (idx *Index[E]) shardFor(key []byte) *shard[E] {
	return idx.shards[shardFor(key, ShardCount)]
}

// Lookup finds the entry stored under key, if any, and takes out a
// reference on its behalf before returning it: the caller owns that
// reference and must Unref it exactly once, whether or not it goes on to
// use the entry.
func (idx *Index[E]) Lookup(key []byte) (entry E, ok bool) {
	s := idx.shardFor(key)
	s.lock.rLock()
	defer s.lock.rUnlock()

	l, found := s.t.lookup(augment(key))
	if !found {
		var zero E
		return zero, false
	}
	if !l.entry.Ref() {
		// Entry is mid-eviction: treat exactly like a miss.
		var zero E
		return zero, false
	}
	return l.entry, true
}

// Insert stores entry under key, taking out the index's own reference on
// it. If a different entry was already stored under key, it is replaced:
// the caller gets back the replaced entry (already holding the index's old
// reference) so it can Unref it once the old entry is no longer needed by
// anyone else, and hadOld is true.
func (idx *Index[E]) Insert(key []byte, entry E) (replaced E, hadOld bool) {
	s := idx.shardFor(key)
	s.lock.lock()
	defer s.lock.unlock()

	entry.Ref()
	old := s.t.insert(augment(key), entry)
	if old == nil {
		var zero E
		return zero, false
	}
	return old.entry, true
}

// InsertIfAbsent stores entry under key only if key is not already present,
// taking out the index's own reference on success. It never replaces an
// existing entry: callers that must reject a duplicate key rather than
// overwrite it use this instead of Insert, and doing the check-then-insert
// under the same writer-lock critical section as Insert is what makes two
// concurrent inserts of the same key linearizable instead of racy.
func (idx *Index[E]) InsertIfAbsent(key []byte, entry E) (inserted bool) {
	s := idx.shardFor(key)
	s.lock.lock()
	defer s.lock.unlock()

	augmented := augment(key)
	if _, found := s.t.lookup(augmented); found {
		return false
	}
	entry.Ref()
	s.t.insert(augmented, entry)
	return true
}

// Remove deletes key from the index, dropping the index's reference on its
// entry. It returns the removed entry (reference already dropped, purely
// for the caller's bookkeeping/LRU-detach step) and whether key was present.
func (idx *Index[E]) Remove(key []byte) (removed E, ok bool) {
	s := idx.shardFor(key)
	s.lock.lock()
	defer s.lock.unlock()

	l, found := s.t.remove(augment(key))
	if !found {
		var zero E
		return zero, false
	}
	l.entry.Unref()
	return l.entry, true
}
