package farad

import "sync/atomic"

// Stat identifies one of the cache's counters. Puts, gets, misses and
// evictions only ever grow; DRAM bytes (the total length of resident keys)
// also shrinks as entries are released.
type Stat int

const (
	StatPuts Stat = iota
	StatGets
	StatMisses
	StatEvictions
	StatDRAMBytes
)

// stats holds the façade's atomic counters: one atomic.Int64 per counter,
// a single accessor by kind, no locks.
type stats struct {
	puts      atomic.Int64
	gets      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	dramBytes atomic.Int64
}

func (s *stats) get(stat Stat) uint64 {
	switch stat {
	case StatPuts:
		return uint64(s.puts.Load())
	case StatGets:
		return uint64(s.gets.Load())
	case StatMisses:
		return uint64(s.misses.Load())
	case StatEvictions:
		return uint64(s.evictions.Load())
	case StatDRAMBytes:
		return uint64(s.dramBytes.Load())
	default:
		return 0
	}
}
