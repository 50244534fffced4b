// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// memoryEntry carries the value and its absolute expiry. Expiry is
// checked lazily on read; the LRU bound handles capacity.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryTier is the in-process L1: a bounded LRU with per-entry TTL.
type MemoryTier struct {
	mu      sync.Mutex
	entries *lru.Cache[string, memoryEntry]
	nowFunc func() time.Time
}

// NewMemoryTier creates an L1 tier holding at most capacity entries.
func NewMemoryTier(capacity int) (*MemoryTier, error) {
	if capacity <= 0 {
		return nil, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"cache capacity must be positive, got %d", capacity)
	}

	entries, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeConfigValidateInvalidValue, "creating lru cache")
	}

	return &MemoryTier{
		entries: entries,
		nowFunc: time.Now,
	}, nil
}

func (t *MemoryTier) Name() string { return "memory" }

func (t *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Get(key)
	if !ok {
		return nil, false, nil
	}

	if !t.nowFunc().Before(entry.expiresAt) {
		// Expired entries are never returned; drop on read.
		t.entries.Remove(key)
		return nil, false, nil
	}

	return entry.value, true, nil
}

func (t *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"cache ttl must be positive, got %s", ttl)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries.Add(key, memoryEntry{
		value:     value,
		expiresAt: t.nowFunc().Add(ttl),
	})
	return nil
}

func (t *MemoryTier) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries.Remove(key)
	return nil
}

// Len reports the number of resident entries, including any not yet
// dropped by lazy expiry.
func (t *MemoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

// SetNowFunc overrides the time source (for testing).
func (t *MemoryTier) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	t.nowFunc = fn
	t.mu.Unlock()
}
