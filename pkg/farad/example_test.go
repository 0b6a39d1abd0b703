package farad_test

import (
	"context"
	"fmt"

	"github.com/watt-toolkit/farad/pkg/farad"
)

// Example demonstrating basic put/get usage.
func ExampleCache_basic() {
	cache := farad.New(farad.NewConfig())
	ctx := context.Background()
	if err := cache.Add(ctx, "/tmp/farad-example-basic"); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer cache.Delete(ctx)

	if err := cache.Put(ctx, []byte("user:123"), []byte("42")); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	buf := make([]byte, 2)
	n, size, err := cache.Get(ctx, []byte("user:123"), buf, 0)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Value: %s (n=%d size=%d)\n", buf[:n], n, size)

	// Output:
	// Value: 42 (n=2 size=2)
}

// Example demonstrating LRU eviction once the pool fills up.
func ExampleCache_lru() {
	cfg := farad.NewConfig()
	cfg.SetSize(farad.MinPoolSize)
	cfg.SetExtentSize(farad.MinExtentSize)
	cfg.SetEvictionPolicy(farad.PolicyLRU)

	cache := farad.New(cfg)
	ctx := context.Background()
	if err := cache.Add(ctx, "/tmp/farad-example-lru"); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer cache.Delete(ctx)

	value := make([]byte, farad.MinPoolSize/4)
	cache.Put(ctx, []byte("a"), value)
	cache.Put(ctx, []byte("b"), value)
	cache.Put(ctx, []byte("c"), value)

	// Touch "a" so it is no longer the least-recently-used entry.
	cache.Get(ctx, []byte("a"), make([]byte, 1), 0)

	// This Put needs room: "b" is now the true LRU victim.
	cache.Put(ctx, []byte("d"), value)

	_, _, err := cache.Get(ctx, []byte("b"), make([]byte, 1), 0)
	if err != nil {
		fmt.Println("b was evicted")
	}

	_, _, err = cache.Get(ctx, []byte("a"), make([]byte, 1), 0)
	if err == nil {
		fmt.Println("a still in cache")
	}

	// Output:
	// b was evicted
	// a still in cache
}

// Example demonstrating cache statistics.
func ExampleCache_stats() {
	cache := farad.New(farad.NewConfig())
	ctx := context.Background()
	if err := cache.Add(ctx, "/tmp/farad-example-stats"); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer cache.Delete(ctx)

	cache.Put(ctx, []byte("key1"), []byte("100"))
	cache.Put(ctx, []byte("key2"), []byte("200"))
	cache.Get(ctx, []byte("key1"), make([]byte, 3), 0) // hit
	cache.Get(ctx, []byte("missing"), make([]byte, 3), 0) // miss
	cache.Evict(ctx, []byte("key2"))

	fmt.Printf("Puts: %d\n", cache.Stat(farad.StatPuts))
	fmt.Printf("Gets: %d\n", cache.Stat(farad.StatGets))
	fmt.Printf("Misses: %d\n", cache.Stat(farad.StatMisses))
	fmt.Printf("Evictions: %d\n", cache.Stat(farad.StatEvictions))

	// Output:
	// Puts: 2
	// Gets: 2
	// Misses: 1
	// Evictions: 1
}

// Example demonstrating exists check.
func ExampleCache_exists() {
	cache := farad.New(farad.NewConfig())
	ctx := context.Background()
	if err := cache.Add(ctx, "/tmp/farad-example-exists"); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer cache.Delete(ctx)

	cache.Put(ctx, []byte("user:123"), []byte("john"))

	exists, _ := cache.Exists(ctx, []byte("user:123"))
	fmt.Printf("user:123 exists: %v\n", exists)

	exists, _ = cache.Exists(ctx, []byte("user:999"))
	fmt.Printf("user:999 exists: %v\n", exists)

	// Output:
	// user:123 exists: true
	// user:999 exists: false
}

// Example demonstrating no-eviction-policy behavior once the pool fills up.
func ExampleCache_noEviction() {
	cfg := farad.NewConfig()
	cfg.SetSize(farad.MinPoolSize)
	cfg.SetExtentSize(farad.MinExtentSize)
	cfg.SetEvictionPolicy(farad.PolicyNone)

	cache := farad.New(cfg)
	ctx := context.Background()
	if err := cache.Add(ctx, "/tmp/farad-example-noeviction"); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer cache.Delete(ctx)

	value := make([]byte, farad.MinPoolSize/2)
	cache.Put(ctx, []byte("a"), value)
	cache.Put(ctx, []byte("b"), value)

	err := cache.Put(ctx, []byte("c"), value)
	if err != nil {
		fmt.Println("pool full, cannot add more entries")
	}

	// Output:
	// pool full, cannot add more entries
}
