// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	"github.com/giak/mnemo-lite-sub001/pkg/health"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := breaker.NewRegistry()
	cb := newBreaker(t, defaultConfig())

	reg.Register(cb, true)

	got, ok := reg.Get("test-dep")
	require.True(t, ok)
	assert.Same(t, cb, got)

	_, ok = reg.Get("absent")
	assert.False(t, ok)
}

func TestRegistry_ResetUnknownBreaker(t *testing.T) {
	reg := breaker.NewRegistry()

	err := reg.Reset("absent")
	require.Error(t, err)
	assert.Equal(t, mnemoerr.CodeBreakerUnknown, mnemoerr.CodeOf(err))
}

func TestRegistry_ResetClosesBreaker(t *testing.T) {
	reg := breaker.NewRegistry()
	cb := newBreaker(t, defaultConfig())
	reg.Register(cb, false)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, cb.State())

	require.NoError(t, reg.Reset("test-dep"))
	assert.Equal(t, breaker.StateClosed, cb.State())
}

func TestRegistry_SnapshotSortedAndCritical(t *testing.T) {
	reg := breaker.NewRegistry()

	redis, err := breaker.New("redis", defaultConfig(), nil)
	require.NoError(t, err)
	embed, err := breaker.New("embedding", defaultConfig(), nil)
	require.NoError(t, err)

	reg.Register(redis, true)
	reg.Register(embed, false)

	for i := 0; i < 3; i++ {
		redis.RecordFailure()
	}

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "embedding", snap[0].Name)
	assert.Equal(t, "redis", snap[1].Name)
	assert.True(t, snap[1].Critical)
	assert.Equal(t, "open", snap[1].State)
	assert.NotNil(t, snap[1].LastFailureAt)
	assert.Equal(t, "closed", snap[0].State)
}

func TestHealthCompute_DegradedOnCriticalOpen(t *testing.T) {
	reg := breaker.NewRegistry()

	critical, err := breaker.New("redis", breaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	}, nil)
	require.NoError(t, err)
	reg.Register(critical, true)

	report := health.Compute(reg.Snapshot(), nil)
	assert.Equal(t, health.StatusHealthy, report.Status)

	critical.RecordFailure()

	report = health.Compute(reg.Snapshot(), nil)
	assert.Equal(t, health.StatusDegraded, report.Status)
}

func TestHealthCompute_NonCriticalOpenStaysHealthy(t *testing.T) {
	reg := breaker.NewRegistry()

	cb, err := breaker.New("worker-tsx", breaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	}, nil)
	require.NoError(t, err)
	reg.Register(cb, false)
	cb.RecordFailure()

	report := health.Compute(reg.Snapshot(), nil)
	assert.Equal(t, health.StatusHealthy, report.Status)
}
