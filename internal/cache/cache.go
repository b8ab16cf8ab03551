// SPDX-License-Identifier: MIT

// Package cache provides TTL-bounded key claims used to drop duplicate
// deliveries.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Cache records short-lived keys. Implementations must be safe for concurrent use.
type Cache interface {
	// Claim stores key for ttl if it is absent. It returns true when this call
	// stored the key and false when the key was already present.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release removes key so a later Claim succeeds again.
	Release(ctx context.Context, key string) error
	// Stats returns cache statistics.
	Stats() Stats
	Ping(ctx context.Context) error
	Close() error
}

// Stats holds cache counters.
type Stats struct {
	Claims      int64 // Successful claims
	Duplicates  int64 // Claims rejected because the key existed
	Evictions   int64 // Expired entries removed by the janitor
	CurrentSize int   // Current number of entries, -1 when unknown
}

// Backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// memoryCache is an in-memory implementation of Cache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time

	claims     atomic.Int64
	duplicates atomic.Int64
	evictions  atomic.Int64

	janitor *janitor
}

// NewMemoryCache creates an in-memory cache. A positive cleanupInterval
// starts a janitor goroutine that is stopped by Close.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	return newMemoryCache(cleanupInterval, time.Now)
}

func newMemoryCache(cleanupInterval time.Duration, now func() time.Time) *memoryCache {
	c := &memoryCache{
		entries: make(map[string]time.Time),
		now:     now,
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
			done:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}
	return c
}

func (c *memoryCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.entries[key]; ok && now.Before(exp) {
		c.duplicates.Add(1)
		return false, nil
	}
	c.entries[key] = now.Add(ttl)
	c.claims.Add(1)
	return true, nil
}

func (c *memoryCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Claims:      c.claims.Load(),
		Duplicates:  c.duplicates.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

func (c *memoryCache) Ping(context.Context) error { return nil }

// Close stops the janitor. It is safe to call more than once.
func (c *memoryCache) Close() error {
	if c.janitor != nil {
		c.janitor.shutdown()
	}
	return nil
}

// deleteExpired removes all expired entries and returns how many were removed.
func (c *memoryCache) deleteExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, key)
			count++
		}
	}
	c.evictions.Add(int64(count))
	return count
}

// janitor performs periodic cleanup of expired entries.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (j *janitor) run(c *memoryCache) {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

func (j *janitor) shutdown() {
	j.once.Do(func() { close(j.stop) })
	<-j.done
}

// noOpCache never reports duplicates.
type noOpCache struct{}

// NewNoOpCache creates a cache that accepts every claim.
func NewNoOpCache() Cache {
	return noOpCache{}
}

func (noOpCache) Claim(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (noOpCache) Release(context.Context, string) error                     { return nil }
func (noOpCache) Stats() Stats                                              { return Stats{CurrentSize: -1} }
func (noOpCache) Ping(context.Context) error                                { return nil }
func (noOpCache) Close() error                                              { return nil }
