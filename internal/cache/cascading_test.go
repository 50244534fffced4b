// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	"github.com/giak/mnemo-lite-sub001/internal/cache"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

func newL1(t *testing.T) *cache.MemoryTier {
	t.Helper()
	l1, err := cache.NewMemoryTier(64)
	require.NoError(t, err)
	return l1
}

func forceOpen(cb *breaker.CircuitBreaker) {
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
}

func TestCascading_RoundTripL1Only(t *testing.T) {
	c, err := cache.NewCascading(newL1(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

// Spec scenario: distributed tier breaker forced open; set("k","v") then
// get("k") returns "v" from L1 with the distributed tier untouched.
func TestCascading_RoundTripWithBreakerOpen(t *testing.T) {
	client := newFakeRedis()
	cb := newRedisBreaker(t)
	l2 := cache.NewRedisTier(client, cb, time.Second)

	c, err := cache.NewCascading(newL1(t), nil, cache.WithDistributedTier(l2, cb))
	require.NoError(t, err)
	ctx := context.Background()

	forceOpen(cb)
	before := client.callCount()

	c.Set(ctx, "k", []byte("v"), time.Minute)

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, before, client.callCount(), "distributed tier untouched while open")
}

func TestCascading_L2HitPopulatesL1(t *testing.T) {
	client := newFakeRedis()
	cb := newRedisBreaker(t)
	l2 := cache.NewRedisTier(client, cb, time.Second)
	l1 := newL1(t)

	c, err := cache.NewCascading(l1, nil, cache.WithDistributedTier(l2, cb))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l2.Set(ctx, "k", []byte("shared"), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("shared"), got)

	_, ok, _ = l1.Get(ctx, "k")
	assert.True(t, ok, "L2 hit back-fills L1")
}

func TestCascading_FallbackLoaderOnFullMiss(t *testing.T) {
	loads := 0
	loader := func(ctx context.Context, key string) ([]byte, bool, error) {
		loads++
		if key == "durable" {
			return []byte("from-store"), true, nil
		}
		return nil, false, nil
	}

	l1 := newL1(t)
	c, err := cache.NewCascading(l1, loader)
	require.NoError(t, err)
	ctx := context.Background()

	got, ok, err := c.Get(ctx, "durable")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-store"), got)
	assert.Equal(t, 1, loads)

	// Loader hit back-fills L1; the next read stays local.
	_, ok, err = c.Get(ctx, "durable")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, loads)

	_, ok, err = c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCascading_BreakerOpenSkipsToLoader(t *testing.T) {
	client := newFakeRedis()
	cb := newRedisBreaker(t)
	l2 := cache.NewRedisTier(client, cb, time.Second)

	loader := func(ctx context.Context, key string) ([]byte, bool, error) {
		return []byte("fallback"), true, nil
	}

	c, err := cache.NewCascading(newL1(t), loader, cache.WithDistributedTier(l2, cb))
	require.NoError(t, err)

	forceOpen(cb)
	before := client.callCount()

	got, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("fallback"), got)
	assert.Equal(t, before, client.callCount())
}

func TestCascading_StoreFailureSurfaced(t *testing.T) {
	loader := func(ctx context.Context, key string) ([]byte, bool, error) {
		return nil, false, mnemoerr.New(mnemoerr.CodeStoreUnavailable, "database locked")
	}

	c, err := cache.NewCascading(newL1(t), loader)
	require.NoError(t, err)

	_, _, err = c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, mnemoerr.IsStoreUnavailable(err), "durable-store failure is the one surfaced error")
}

// When the distributed tier is unreachable on every call, get/set must
// neither raise nor block longer than the configured per-tier timeout.
func TestCascading_UnreachableL2NeverRaises(t *testing.T) {
	client := newFakeRedis()
	client.setFailure(errors.New("connection refused"))
	cb := newRedisBreaker(t)
	l2 := cache.NewRedisTier(client, cb, 100*time.Millisecond)

	c, err := cache.NewCascading(newL1(t), nil, cache.WithDistributedTier(l2, cb))
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		c.Set(ctx, "k", []byte("v"), time.Minute)
		got, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "L1 keeps serving")
		assert.Equal(t, []byte("v"), got)
	}
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCascading_DeleteInvalidatesAllTiers(t *testing.T) {
	client := newFakeRedis()
	cb := newRedisBreaker(t)
	l2 := cache.NewRedisTier(client, cb, time.Second)
	l1 := newL1(t)

	c, err := cache.NewCascading(l1, nil, cache.WithDistributedTier(l2, cb))
	require.NoError(t, err)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")

	_, ok, _ := l1.Get(ctx, "k")
	assert.False(t, ok)
	_, ok, _ = l2.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCascading_RequiresL1(t *testing.T) {
	_, err := cache.NewCascading(nil, nil)
	assert.Error(t, err)
}
