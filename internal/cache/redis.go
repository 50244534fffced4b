// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	"github.com/giak/mnemo-lite-sub001/internal/guard"
)

// RedisCommands is the slice of the go-redis API the tier needs;
// *redis.Client and redis.Cmdable both satisfy it.
type RedisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisTier is the shared distributed L2. Every call runs through the
// tier's circuit breaker and under a per-call deadline; a key miss
// (redis.Nil) is not a dependency failure and is never charged to the
// breaker.
type RedisTier struct {
	client  RedisCommands
	cb      *breaker.CircuitBreaker
	timeout time.Duration
}

// NewRedisTier wraps client with cb admission and a per-call timeout.
func NewRedisTier(client RedisCommands, cb *breaker.CircuitBreaker, timeout time.Duration) *RedisTier {
	return &RedisTier{
		client:  client,
		cb:      cb,
		timeout: timeout,
	}
}

func (t *RedisTier) Name() string { return "redis" }

// Breaker exposes the tier's breaker so the cascading layer can observe
// admission state for its once-per-transition skip logging.
func (t *RedisTier) Breaker() *breaker.CircuitBreaker { return t.cb }

type redisGet struct {
	value []byte
	ok    bool
}

func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := breaker.Do(ctx, t.cb, func(ctx context.Context) (redisGet, error) {
		return guard.Run(ctx, t.timeout, "redis.get", func(ctx context.Context) (redisGet, error) {
			raw, err := t.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return redisGet{}, nil
			}
			if err != nil {
				return redisGet{}, err
			}
			return redisGet{value: raw, ok: true}, nil
		}, "key", key)
	})
	if err != nil {
		return nil, false, err
	}
	return out.value, out.ok, nil
}

func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := breaker.Do(ctx, t.cb, func(ctx context.Context) (struct{}, error) {
		return guard.Run(ctx, t.timeout, "redis.set", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, t.client.Set(ctx, key, value, ttl).Err()
		}, "key", key)
	})
	return err
}

func (t *RedisTier) Delete(ctx context.Context, key string) error {
	_, err := breaker.Do(ctx, t.cb, func(ctx context.Context) (struct{}, error) {
		return guard.Run(ctx, t.timeout, "redis.del", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, t.client.Del(ctx, key).Err()
		}, "key", key)
	})
	return err
}
