// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package health

import "time"

// Status is the overall system verdict derived from breaker state.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// BreakerStatus is a point-in-time snapshot of one circuit breaker,
// safe to serialize to JSON.
type BreakerStatus struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	FailureCount  int64      `json:"failure_count"`
	SuccessCount  int64      `json:"success_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	Critical      bool       `json:"critical"`
}

// WorkerStatus is a point-in-time snapshot of one managed worker process.
type WorkerStatus struct {
	Kind      string     `json:"kind"`
	Alive     bool       `json:"alive"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Report aggregates breaker and worker snapshots for the health endpoint.
type Report struct {
	Status   Status          `json:"status"`
	Breakers []BreakerStatus `json:"breakers"`
	Workers  []WorkerStatus  `json:"workers"`
}

// Compute derives the overall status: degraded if any critical breaker
// is open, healthy otherwise.
func Compute(breakers []BreakerStatus, workers []WorkerStatus) Report {
	status := StatusHealthy
	for _, b := range breakers {
		if b.Critical && b.State == "open" {
			status = StatusDegraded
			break
		}
	}

	return Report{
		Status:   status,
		Breakers: breakers,
		Workers:  workers,
	}
}
