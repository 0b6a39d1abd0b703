package farad

import "fmt"

// EvictionPolicy selects the replacement policy the cache façade wires into
// the LRU package, or disables replacement entirely.
type EvictionPolicy int

const (
	// PolicyNone disables replacement: Put never evicts, and NO_SPACE is
	// the only path once the allocator is exhausted.
	PolicyNone EvictionPolicy = iota
	// PolicyLRU wires pkg/lru's ring-buffered LRU policy.
	PolicyLRU
)

// Configuration size constraints.
const (
	// MinPoolSize is the smallest allowed Config.Size.
	MinPoolSize = 1 << 20 // 1 MiB

	// MinExtentSize is the smallest allowed Config.ExtentSize.
	MinExtentSize = 256
)

// Config holds the cache's fixed-after-ready configuration: pool size,
// extent granularity, and replacement policy. Each setter validates and
// fails immediately with ErrInvalidArgument/ErrAlreadyReady, rather than
// deferring validation to a single terminal Build call.
type Config struct {
	size       uint64
	extentSize uint64
	policy     EvictionPolicy
	ready      bool
}

// NewConfig returns a Config already satisfying the minimums; callers may
// still call SetSize/SetExtentSize/SetEvictionPolicy to override the
// defaults before the owning Cache's Add, but New itself never fails.
func NewConfig() *Config {
	return &Config{
		size:       MinPoolSize,
		extentSize: MinExtentSize,
		policy:     PolicyLRU,
	}
}

// SetSize configures the pool's total byte size. Must be >= MinPoolSize and
// must be called before the owning Cache becomes ready.
func (c *Config) SetSize(bytes uint64) error {
	if c.ready {
		return ErrAlreadyReady
	}
	if bytes < MinPoolSize {
		return fmt.Errorf("%w: size %d below minimum %d", ErrInvalidArgument, bytes, MinPoolSize)
	}
	c.size = bytes
	return nil
}

// SetExtentSize configures the allocator's extent granularity. Must be
// >= MinExtentSize and <= the configured size.
func (c *Config) SetExtentSize(bytes uint64) error {
	if c.ready {
		return ErrAlreadyReady
	}
	if bytes < MinExtentSize {
		return fmt.Errorf("%w: extent size %d below minimum %d", ErrInvalidArgument, bytes, MinExtentSize)
	}
	if bytes > c.size {
		return fmt.Errorf("%w: extent size %d exceeds pool size %d", ErrInvalidArgument, bytes, c.size)
	}
	c.extentSize = bytes
	return nil
}

// SetEvictionPolicy selects the replacement policy. Must be called before
// the owning Cache becomes ready.
func (c *Config) SetEvictionPolicy(p EvictionPolicy) error {
	if c.ready {
		return ErrAlreadyReady
	}
	if p != PolicyNone && p != PolicyLRU {
		return fmt.Errorf("%w: unknown eviction policy %d", ErrInvalidArgument, p)
	}
	c.policy = p
	return nil
}

// Size returns the configured pool size in bytes.
func (c *Config) Size() uint64 { return c.size }

// ExtentSize returns the configured extent granularity in bytes.
func (c *Config) ExtentSize() uint64 { return c.extentSize }

// Policy returns the configured eviction policy.
func (c *Config) Policy() EvictionPolicy { return c.policy }
