// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	"github.com/giak/mnemo-lite-sub001/internal/server"
	"github.com/giak/mnemo-lite-sub001/pkg/health"
)

type staticWorkers []health.WorkerStatus

func (s staticWorkers) Snapshot() []health.WorkerStatus { return s }

func newTestServer(t *testing.T, workers server.WorkerSnapshotter) (*server.Server, *breaker.CircuitBreaker) {
	t.Helper()

	cb, err := breaker.New("redis", breaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	}, nil)
	require.NoError(t, err)

	reg := breaker.NewRegistry()
	reg.Register(cb, true)

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, reg, workers, nil)
	require.NoError(t, err)
	return srv, cb
}

func doJSON(t *testing.T, srv *server.Server, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestServer_HealthHealthy(t *testing.T) {
	srv, _ := newTestServer(t, staticWorkers{{Kind: "typescript-analyzer", Alive: true, PID: 42}})

	var report health.Report
	rec := doJSON(t, srv, http.MethodGet, "/health", &report)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, health.StatusHealthy, report.Status)
	require.Len(t, report.Breakers, 1)
	assert.Equal(t, "redis", report.Breakers[0].Name)
	assert.Equal(t, "closed", report.Breakers[0].State)
	assert.True(t, report.Breakers[0].Critical)
	require.Len(t, report.Workers, 1)
	assert.Equal(t, "typescript-analyzer", report.Workers[0].Kind)
	assert.True(t, report.Workers[0].Alive)
}

func TestServer_HealthDegradedWhenCriticalBreakerOpen(t *testing.T) {
	srv, cb := newTestServer(t, nil)

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, breaker.StateOpen, cb.State())

	var report health.Report
	rec := doJSON(t, srv, http.MethodGet, "/health", &report)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, health.StatusDegraded, report.Status)
	assert.Equal(t, "open", report.Breakers[0].State)
	assert.NotNil(t, report.Breakers[0].LastFailureAt)
}

func TestServer_ListBreakers(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var out struct {
		Breakers []health.BreakerStatus `json:"breakers"`
	}
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/breakers", &out)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out.Breakers, 1)
	assert.Equal(t, "redis", out.Breakers[0].Name)
}

func TestServer_ResetBreaker(t *testing.T) {
	srv, cb := newTestServer(t, nil)

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, breaker.StateOpen, cb.State())

	var out struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/breakers/redis/reset", &out)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "redis", out.Name)
	assert.Equal(t, "closed", out.State)
	assert.Equal(t, breaker.StateClosed, cb.State())
}

func TestServer_ResetUnknownBreaker(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/breakers/absent/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_RequiresListenAddrAndRegistry(t *testing.T) {
	_, err := server.New(server.Config{}, breaker.NewRegistry(), nil, nil)
	assert.Error(t, err)

	_, err = server.New(server.Config{ListenAddr: ":0"}, nil, nil, nil)
	assert.Error(t, err)
}
