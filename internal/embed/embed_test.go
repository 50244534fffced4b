// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package embed_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	"github.com/giak/mnemo-lite-sub001/internal/embed"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

type mockUpstream struct {
	srv      *httptest.Server
	calls    atomic.Int64
	failWith int           // HTTP status to answer with, 0 means succeed
	delay    time.Duration // per-request latency
}

func newMockUpstream(t *testing.T) *mockUpstream {
	t.Helper()
	m := &mockUpstream{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		if m.delay > 0 {
			time.Sleep(m.delay)
		}
		if m.failWith != 0 {
			http.Error(w, "upstream unavailable", m.failWith)
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		// Answer in reverse order to prove the client re-sorts by index.
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{
				Object:    "embedding",
				Index:     i,
				Embedding: []float64{float64(i), float64(i) + 0.5},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-3-small",
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func newTestClient(t *testing.T, m *mockUpstream, batchTimeout time.Duration) *embed.Client {
	t.Helper()
	c, err := embed.New(embed.Config{
		APIKey:           "test-key",
		BaseURL:          m.srv.URL,
		BatchTimeout:     batchTimeout,
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	}, breaker.NewRegistry(), nil)
	require.NoError(t, err)
	return c
}

func TestClient_EmbedReturnsVectorsInInputOrder(t *testing.T) {
	m := newMockUpstream(t)
	c := newTestClient(t, m, 5*time.Second)

	vecs, err := c.Embed(context.Background(), []string{"func main()", "type Foo struct"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDeltaSlice(t, []float32{0, 0.5}, vecs[0], 1e-6)
	assert.InDeltaSlice(t, []float32{1, 1.5}, vecs[1], 1e-6)
	assert.Equal(t, int64(1), c.Breaker().Metrics().SuccessCount)
}

func TestClient_EmptyInputRejectedWithoutUpstreamCall(t *testing.T) {
	m := newMockUpstream(t)
	c := newTestClient(t, m, 5*time.Second)

	_, err := c.Embed(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, mnemoerr.CodeEmbedRequestInvalid, mnemoerr.CodeOf(err))

	_, err = c.Embed(context.Background(), []string{"ok", ""})
	require.Error(t, err)
	assert.Equal(t, mnemoerr.CodeEmbedRequestInvalid, mnemoerr.CodeOf(err))

	assert.Equal(t, int64(0), m.calls.Load(), "invalid input never reaches the upstream")
	assert.Equal(t, int64(0), c.Breaker().Metrics().FailureCount, "validation is not an upstream failure")
}

func TestClient_UpstreamFailureRecordedAndRaised(t *testing.T) {
	m := newMockUpstream(t)
	m.failWith = http.StatusInternalServerError
	c := newTestClient(t, m, 5*time.Second)

	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, mnemoerr.CodeEmbedUpstreamFailure, mnemoerr.CodeOf(err))
	assert.Equal(t, int64(1), c.Breaker().Metrics().FailureCount)
}

func TestClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	m := newMockUpstream(t)
	m.failWith = http.StatusServiceUnavailable
	c := newTestClient(t, m, 5*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Embed(ctx, []string{"x"})
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, c.Breaker().State())
	callsBefore := m.calls.Load()

	_, err := c.Embed(ctx, []string{"x"})
	require.Error(t, err)
	assert.True(t, mnemoerr.IsCircuitOpen(err))
	assert.Equal(t, callsBefore, m.calls.Load(), "open breaker short-circuits the upstream")
}

func TestClient_BatchTimeoutBoundsSlowUpstream(t *testing.T) {
	m := newMockUpstream(t)
	m.delay = 2 * time.Second
	c := newTestClient(t, m, 200*time.Millisecond)

	start := time.Now()
	_, err := c.Embed(context.Background(), []string{"x"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, mnemoerr.IsTimeout(err))
	assert.Less(t, elapsed, time.Second, "caller unblocked at the batch deadline")
	assert.Equal(t, int64(1), c.Breaker().Metrics().FailureCount)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := embed.New(embed.Config{}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, mnemoerr.CodeEmbedRequestInvalid, mnemoerr.CodeOf(err))
}
