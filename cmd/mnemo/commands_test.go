// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giak/mnemo-lite-sub001/pkg/health"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mnemo dev")
}

func TestRootCmd_ListsSubcommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "start")
	assert.Contains(t, out, "status")
	assert.Contains(t, out, "version")
}

func TestStatusCmd_NotRunning(t *testing.T) {
	// Port 1 is never listening.
	out, err := execute(t, "status", "--address", "127.0.0.1:1")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestStatusCmd_ReportsBreakersAndWorkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health.Report{
			Status: health.StatusDegraded,
			Breakers: []health.BreakerStatus{
				{Name: "redis", State: "open", FailureCount: 5, Critical: true},
				{Name: "embedding", State: "closed", SuccessCount: 12},
			},
			Workers: []health.WorkerStatus{
				{Kind: "typescript-analyzer", Alive: true, PID: 4242},
			},
		})
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	out, err := execute(t, "status", "--address", addr)
	require.NoError(t, err)

	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "redis")
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "(critical)")
	assert.Contains(t, out, "typescript-analyzer")
	assert.Contains(t, out, "pid=4242")
}
