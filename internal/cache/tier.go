// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

// Package cache implements the cascading cache: a bounded in-process L1
// tier in front of a breaker-protected distributed L2 tier, falling
// through to the durable store. Cache failures never reach callers; they
// degrade to a miss or a best-effort write.
package cache

import (
	"context"
	"time"
)

// Tier is a single cache level. Implementations must be safe for
// concurrent use.
type Tier interface {
	// Name identifies the tier in logs ("memory", "redis").
	Name() string

	// Get returns the value for key. ok is false on a miss; an entry past
	// its expiry is a miss. err is reserved for tier-level failures
	// (unreachable backend, breaker denial) which callers treat as a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete invalidates key.
	Delete(ctx context.Context, key string) error
}

// Loader reads a key from the durable store, the final fallback beneath
// every cache tier. ok is false when the store has no value for key;
// err is only returned for store failures, which are the one class of
// cache-path error surfaced to callers.
type Loader func(ctx context.Context, key string) (value []byte, ok bool, err error)
