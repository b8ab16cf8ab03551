// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestMemoryCache_ClaimOnce(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must report a duplicate")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Claims)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCache_Expiration(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newMemoryCache(0, clock.Now)
	ctx := context.Background()

	ok, _ := c.Claim(ctx, "k", time.Second)
	require.True(t, ok)

	clock.Advance(999 * time.Millisecond)
	ok, _ = c.Claim(ctx, "k", time.Second)
	assert.False(t, ok)

	clock.Advance(time.Millisecond)
	ok, _ = c.Claim(ctx, "k", time.Second)
	assert.True(t, ok, "claim must succeed once the ttl elapsed")
}

func TestMemoryCache_Release(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	_, _ = c.Claim(ctx, "k", time.Minute)
	require.NoError(t, c.Release(ctx, "k"))

	ok, err := c.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_DeleteExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newMemoryCache(0, clock.Now)
	ctx := context.Background()

	_, _ = c.Claim(ctx, "short", time.Second)
	_, _ = c.Claim(ctx, "long", time.Hour)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, c.deleteExpired())
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 1, c.Stats().CurrentSize)
}

func TestMemoryCache_ConcurrentClaimsSingleWinner(t *testing.T) {
	c := NewMemoryCache(0)
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.Claim(context.Background(), "same", time.Minute)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestMemoryCache_RejectsNonPositiveTTL(t *testing.T) {
	_, err := NewMemoryCache(0).Claim(context.Background(), "k", 0)
	assert.Error(t, err)
}

func TestMemoryCache_CloseStopsJanitor(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewMemoryCache(10 * time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestNoOpCache_AlwaysClaims(t *testing.T) {
	c := NewNoOpCache()
	for i := 0; i < 3; i++ {
		ok, err := c.Claim(context.Background(), "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestOpen_Backends(t *testing.T) {
	c, err := Open(BackendNone, time.Minute, RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, noOpCache{}, c)

	c, err = Open(BackendMemory, time.Minute, RedisConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memoryCache{}, c)
	require.NoError(t, c.Close())

	_, err = Open("memcached", time.Minute, RedisConfig{}, zerolog.Nop())
	assert.Error(t, err)
}
