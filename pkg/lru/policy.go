// Package lru implements the cache's replacement policy: a doubly-linked
// list ordered from most- to least-recently-used, with hot-path "touch"
// promotions absorbed by a lock-free ring buffer instead of taking the
// list's mutex on every access.
package lru

import (
	"sync"
	"sync/atomic"
)

// Node is one entry's position in the LRU list. Its Slot accessor on the
// owning value lets the policy find (and atomically swap) a value's
// current node without a separate lookup structure.
type Node[T any] struct {
	value      T
	prev, next *Node[T]
}

// Value returns the value held at this node.
func (n *Node[T]) Value() T { return n.value }

// Sloter is implemented by anything the policy can track. Slot exposes an
// atomic backpointer to the value's current Node (nil when not resident in
// the list), which the policy uses to support O(1) touch-in-place. Ref and
// Unref manage the value's own lifetime; Ref returns false if the value is
// already being evicted (the caller must treat that as a miss), and Unref
// returns true exactly when it dropped the last reference, signalling the
// caller to finalize destruction.
type Sloter[T any] interface {
	Slot() *atomic.Pointer[Node[T]]
	Ref() bool
	Unref() bool
}

// Policy is a single LRU list shared by the whole cache (unlike the index,
// it is not sharded: EvictVictim must pick a true global LRU victim, which
// a sharded list could not guarantee).
type Policy[T Sloter[T]] struct {
	mu         sync.Mutex
	head, tail *Node[T]
	size       int
	touches    ring[T]
}

// New returns an empty Policy.
func New[T Sloter[T]]() *Policy[T] {
	return &Policy[T]{}
}

// Insert adds value to the front of the list as most-recently-used,
// acquiring the policy's own long-lived reference on it (distinct from the
// index's own reference and from any transient caller reference).
func (p *Policy[T]) Insert(value T) {
	if !value.Ref() {
		// Should not happen for a fresh value, but guards against misuse.
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
	node := &Node[T]{value: value}
	p.pushFrontLocked(node)
	value.Slot().Store(node)
}

// Touch marks value as most-recently-used. The fast path never takes the
// policy's mutex: it pushes value into the ring buffer and returns. The
// promotion itself happens lazily, the next time any mutex-holding
// operation (Insert, Remove, EvictVictim) drains the ring.
func (p *Policy[T]) Touch(value T) {
	if p.touches.push(value) {
		return
	}
	// Ring full: fall back to a direct, mutex-guarded promotion rather
	// than dropping the touch silently under sustained high contention.
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moveToFrontLocked(value)
}

// Remove detaches value from the list, dropping the policy's reference on
// it, and reports whether that drop was the final reference (the caller
// must then run destruction).
func (p *Policy[T]) Remove(value T) (finalRef bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
	node := value.Slot().Load()
	if node == nil {
		return false
	}
	p.unlinkLocked(node)
	value.Slot().Store(nil)
	return value.Unref()
}

// EvictVictim removes and returns the current least-recently-used value,
// dropping the policy's reference on it. ok is false when the list is
// empty. finalRef reports whether dropping the policy's reference was also
// the last reference overall.
func (p *Policy[T]) EvictVictim() (victim T, finalRef bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainLocked()
	if p.tail == nil {
		var zero T
		return zero, false, false
	}
	node := p.tail
	p.unlinkLocked(node)
	node.value.Slot().Store(nil)
	finalRef = node.value.Unref()
	return node.value, finalRef, true
}

// Len reports how many values are currently tracked.
func (p *Policy[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *Policy[T]) drainLocked() {
	p.touches.drain(func(v T) {
		p.moveToFrontLocked(v)
	})
}

func (p *Policy[T]) moveToFrontLocked(value T) {
	node := value.Slot().Load()
	if node == nil {
		// Was evicted or removed between the touch being enqueued and
		// drained; nothing to promote.
		return
	}
	if node == p.head {
		return
	}
	p.unlinkLocked(node)
	p.pushFrontLocked(node)
}

func (p *Policy[T]) pushFrontLocked(node *Node[T]) {
	node.prev = nil
	node.next = p.head
	if p.head != nil {
		p.head.prev = node
	}
	p.head = node
	if p.tail == nil {
		p.tail = node
	}
	p.size++
}

func (p *Policy[T]) unlinkLocked(node *Node[T]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		p.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		p.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	p.size--
}
