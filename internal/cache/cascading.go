// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// Cascading serves reads L1 → L2 → durable store and populates faster
// tiers on slower-tier hits. The distributed tier is optional; with it
// absent or its breaker open the cache stays correct, only slower.
type Cascading struct {
	l1     Tier
	l2     Tier
	l2cb   *breaker.CircuitBreaker
	loader Loader
	logger *slog.Logger

	// skipLogged bounds log volume: the skip of an open distributed tier
	// is logged once per open transition, not once per call.
	skipLogged atomic.Bool
}

// Option configures a Cascading cache.
type Option func(*Cascading)

// WithDistributedTier adds the L2 tier. cb is the breaker protecting it,
// used to detect open-state transitions for skip logging.
func WithDistributedTier(l2 Tier, cb *breaker.CircuitBreaker) Option {
	return func(c *Cascading) {
		c.l2 = l2
		c.l2cb = cb
	}
}

// WithLogger overrides the default slog handler.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cascading) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCascading composes the in-process tier, an optional distributed
// tier, and the durable-store loader of last resort. loader may be nil
// when no durable fallback exists for the keyspace.
func NewCascading(l1 Tier, loader Loader, opts ...Option) (*Cascading, error) {
	if l1 == nil {
		return nil, mnemoerr.New(mnemoerr.CodeConfigValidateInvalidValue, "cascading cache requires an L1 tier")
	}

	c := &Cascading{
		l1:     l1,
		loader: loader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached value for key, trying tiers in order. ok is
// false when no tier and no fallback holds the key. The only errors
// surfaced are durable-store failures; every cache-tier failure degrades
// to a miss.
func (c *Cascading) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if value, ok, _ := c.l1.Get(ctx, key); ok {
		return value, true, nil
	}

	if c.l2 != nil {
		value, ok, err := c.l2.Get(ctx, key)
		switch {
		case err != nil:
			c.noteDistributedFailure(err)
		case ok:
			c.backfillL1(ctx, key, value)
			return value, true, nil
		default:
			c.noteDistributedRecovery()
		}
	}

	if c.loader == nil {
		return nil, false, nil
	}

	value, ok, err := c.loader(ctx, key)
	if err != nil {
		// The durable store is the floor of the cascade; its failure is
		// the one cache-path error callers see.
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	c.backfillL1(ctx, key, value)
	if c.l2 != nil {
		// Best effort: the tier's breaker decides whether the write is
		// even attempted.
		if err := c.l2.Set(ctx, key, value, defaultBackfillTTL); err != nil {
			c.noteDistributedFailure(err)
		}
	}
	return value, true, nil
}

// Set writes through the tiers: L1 unconditionally, L2 only when its
// breaker admits. A failed distributed write is not retried inline and
// never fails the overall operation.
func (c *Cascading) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("in-process cache write rejected",
			"cache_tier", c.l1.Name(), "key", key, "error", err)
	}

	if c.l2 == nil {
		return
	}

	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		c.noteDistributedFailure(err)
		return
	}
	c.noteDistributedRecovery()
}

// Delete invalidates key in every tier, best effort.
func (c *Cascading) Delete(ctx context.Context, key string) {
	_ = c.l1.Delete(ctx, key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.noteDistributedFailure(err)
		}
	}
}

// defaultBackfillTTL bounds how long a loader-sourced value lives in the
// distributed tier when the original write TTL is unknown.
const defaultBackfillTTL = 5 * time.Minute

func (c *Cascading) backfillL1(ctx context.Context, key string, value []byte) {
	if err := c.l1.Set(ctx, key, value, defaultBackfillTTL); err != nil {
		c.logger.Warn("backfill into in-process cache failed", "key", key, "error", err)
	}
}

func (c *Cascading) noteDistributedFailure(err error) {
	if !mnemoerr.IsCircuitOpen(err) {
		c.logger.Debug("distributed cache tier error, degrading to miss", "error", err)
		return
	}

	if c.skipLogged.CompareAndSwap(false, true) {
		c.logger.Warn("distributed cache tier circuit open, skipping to fallback",
			"cache_tier", c.l2.Name())
	}
}

func (c *Cascading) noteDistributedRecovery() {
	if c.skipLogged.CompareAndSwap(true, false) {
		c.logger.Info("distributed cache tier recovered", "cache_tier", c.l2.Name())
	}
}
