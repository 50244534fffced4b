// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	"github.com/giak/mnemo-lite-sub001/internal/guard"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
	"github.com/giak/mnemo-lite-sub001/pkg/health"
)

// shutdownGrace is how long a worker gets between SIGTERM and SIGKILL.
const shutdownGrace = 3 * time.Second

// slot holds the per-kind state the registry protects.
type slot struct {
	spec    KindSpec
	cb      *breaker.CircuitBreaker
	handle  *ManagedProcess
	starts  int64
}

// Registry provides exactly one live process per worker kind, created
// lazily and replaced when dead. It is constructed explicitly at startup
// and injected into callers; there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	slots    map[string]*slot
	logger   *slog.Logger
	breakers *breaker.Registry

	shutdownOnce sync.Once
}

// NewRegistry builds a registry from the declared worker kinds. Each
// kind gets its own circuit breaker, registered with breakers under the
// name "worker-<kind>"; critical kinds mark the system degraded while
// their breaker is open.
func NewRegistry(specs []KindSpec, breakers *breaker.Registry, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		slots:    make(map[string]*slot, len(specs)),
		logger:   logger,
		breakers: breakers,
	}

	for _, spec := range specs {
		cb, err := breaker.New("worker-"+spec.Kind, breaker.Config{
			FailureThreshold: spec.FailureThreshold,
			RecoveryTimeout:  spec.Recovery(),
			HalfOpenMaxCalls: 1,
		}, nil)
		if err != nil {
			return nil, mnemoerr.With(err, mnemoerr.FieldWorkerKind(spec.Kind))
		}
		cb.SetLogger(logger)

		if breakers != nil {
			breakers.Register(cb, spec.Critical)
		}
		r.slots[spec.Kind] = &slot{spec: spec, cb: cb}
	}

	return r, nil
}

// Acquire returns the live handle for kind, starting or replacing the
// process if needed. The mutex serializes only the check-and-create
// race; use of the returned handle is not serialized here.
//
// A nil handle with a nil error means the kind is declared non-critical
// and currently unavailable: the caller continues without the feature.
func (r *Registry) Acquire(ctx context.Context, kind string) (*ManagedProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[kind]
	if !ok {
		return nil, mnemoerr.Errorf(mnemoerr.CodeWorkerKindUnknown, "worker kind %q not declared", kind)
	}

	// An open breaker means the worker has been failing; refuse to feed
	// a process-restart storm and fail fast instead.
	if !s.cb.Admissible() {
		return nil, mnemoerr.New(mnemoerr.CodeBreakerOpen, "worker circuit breaker open",
			mnemoerr.FieldBreaker(s.cb.Name()),
			mnemoerr.FieldWorkerKind(kind))
	}

	if s.handle != nil && s.handle.Alive() {
		return s.handle, nil
	}

	if s.handle != nil {
		r.logger.Warn("worker process dead, replacing",
			"worker_kind", kind, "pid", s.handle.PID())
		s.handle.Stop(shutdownGrace)
		s.handle = nil
	}

	handle, err := startProcess(s.spec, r.logger)
	if err != nil {
		s.cb.RecordFailure()
		if !s.spec.Critical {
			r.logger.Warn("non-critical worker failed to start, continuing without it",
				"worker_kind", kind, "error", err)
			return nil, nil
		}
		return nil, err
	}

	s.handle = handle
	s.starts++
	return handle, nil
}

// Starts reports how many times a process has been started for kind,
// for restart-churn observability.
func (r *Registry) Starts(kind string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slots[kind]; ok {
		return s.starts
	}
	return 0
}

// CallWorker acquires the kind's handle and performs one guarded,
// breaker-accounted protocol exchange. Failures are recorded against the
// kind's breaker and re-raised; the caller decides whether to skip the
// enrichment or fail its unit of work.
func (r *Registry) CallWorker(ctx context.Context, kind, op string, payload json.RawMessage) (json.RawMessage, error) {
	handle, err := r.Acquire(ctx, kind)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, mnemoerr.New(mnemoerr.CodeWorkerUnavailable, "worker unavailable",
			mnemoerr.FieldWorkerKind(kind))
	}

	spec := r.specFor(kind)

	return breaker.Do(ctx, r.breakerFor(kind), func(ctx context.Context) (json.RawMessage, error) {
		// The protocol read cannot be interrupted; dispatch it so the
		// caller is unblocked at the deadline and the exchange is
		// abandoned, not awaited.
		return guard.RunBlocking(ctx, spec.CallDeadline(), "worker."+kind+"."+op, func() (json.RawMessage, error) {
			return handle.Call(op, payload)
		}, "worker_kind", kind, "operation", op)
	})
}

// Breaker returns the circuit breaker for kind, or nil when undeclared.
func (r *Registry) Breaker(kind string) *breaker.CircuitBreaker {
	return r.breakerFor(kind)
}

// Snapshot reports every declared kind for the health surface, sorted
// by kind.
func (r *Registry) Snapshot() []health.WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]health.WorkerStatus, 0, len(r.slots))
	for kind, s := range r.slots {
		ws := health.WorkerStatus{Kind: kind}
		if s.handle != nil {
			ws.Alive = s.handle.Alive()
			ws.PID = s.handle.PID()
			t := s.handle.StartedAt()
			ws.StartedAt = &t
		}
		out = append(out, ws)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Shutdown stops every live worker. It runs exactly once, at process
// exit; later calls are no-ops.
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		for kind, s := range r.slots {
			if s.handle == nil {
				continue
			}
			r.logger.Info("stopping worker", "worker_kind", kind, "pid", s.handle.PID())
			s.handle.Stop(shutdownGrace)
			s.handle = nil
		}
	})
}

func (r *Registry) breakerFor(kind string) *breaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slots[kind]; ok {
		return s.cb
	}
	return nil
}

func (r *Registry) specFor(kind string) KindSpec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slots[kind]; ok {
		return s.spec
	}
	return KindSpec{}
}
