// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

// Package breaker implements the three-state circuit breaker that gates
// calls into external dependencies (distributed cache, embedding host,
// worker processes). One breaker instance exists per protected dependency
// for the lifetime of the process.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// State is the admission state of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// FailureClassifier decides whether an error counts against the breaker.
// Errors that reflect the caller's own choices (cancellation) must not be
// charged to the dependency.
type FailureClassifier func(error) bool

// DefaultClassifier counts every non-nil error except context cancellation.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Config holds the immutable breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. The comparison is >=, so exactly FailureThreshold
	// failures trip it.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// CanExecute admits a half-open probe.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	HalfOpenMaxCalls int
}

func (c Config) validate() error {
	if c.FailureThreshold <= 0 {
		return mnemoerr.Errorf(mnemoerr.CodeBreakerConfigInvalid,
			"failure threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return mnemoerr.Errorf(mnemoerr.CodeBreakerConfigInvalid,
			"recovery timeout must be positive, got %s", c.RecoveryTimeout)
	}
	if c.HalfOpenMaxCalls <= 0 {
		return mnemoerr.Errorf(mnemoerr.CodeBreakerConfigInvalid,
			"half-open max calls must be positive, got %d", c.HalfOpenMaxCalls)
	}
	return nil
}

// Metrics is a point-in-time snapshot of breaker state for observability.
type Metrics struct {
	Name          string
	State         State
	FailureCount  int64
	SuccessCount  int64
	LastFailureAt *time.Time
}

// CircuitBreaker is a stateful gate in front of one external dependency.
// All state transitions happen inside a short mutex-guarded critical
// section, so two concurrent RecordFailure calls at the threshold boundary
// produce exactly one open transition and one log entry.
type CircuitBreaker struct {
	name     string
	cfg      Config
	classify FailureClassifier
	logger   *slog.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int64
	totalSuccesses      int64
	lastFailureAt       time.Time // zero means no failure recorded yet
	halfOpenProbes      int
	nowFunc             func() time.Time
}

// New creates a closed breaker for the named dependency. A nil classifier
// falls back to DefaultClassifier.
func New(name string, cfg Config, classify FailureClassifier) (*CircuitBreaker, error) {
	if name == "" {
		return nil, mnemoerr.New(mnemoerr.CodeBreakerConfigInvalid, "breaker name must not be empty")
	}
	if err := cfg.validate(); err != nil {
		return nil, mnemoerr.With(err, mnemoerr.FieldBreaker(name))
	}
	if classify == nil {
		classify = DefaultClassifier
	}

	return &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		classify: classify,
		logger:   slog.Default(),
		state:    StateClosed,
		nowFunc:  time.Now,
	}, nil
}

// Name returns the stable identity of the protected dependency.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CanExecute reports whether the protected operation may be attempted.
// When the circuit is open and the recovery timeout has elapsed, the
// transition to half-open happens lazily here, not on a timer.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.nowFunc().Sub(cb.lastFailureAt) >= cb.cfg.RecoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.halfOpenProbes = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenProbes < cb.cfg.HalfOpenMaxCalls {
			cb.halfOpenProbes++
			return true
		}
		return false
	default:
		return false
	}
}

// Admissible reports whether a call would currently be admitted, as a
// pure read: unlike CanExecute it neither performs the lazy open to
// half-open transition nor consumes a half-open probe slot. Pre-checks
// (such as worker acquisition) use this so the probe budget is spent
// only on the protected call itself.
func (cb *CircuitBreaker) Admissible() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return cb.nowFunc().Sub(cb.lastFailureAt) >= cb.cfg.RecoveryTimeout
	case StateHalfOpen:
		return cb.halfOpenProbes < cb.cfg.HalfOpenMaxCalls
	default:
		return false
	}
}

// ReleaseProbe returns a half-open probe slot taken by CanExecute when
// the admitted call ended with no verdict for either side: the
// classifier charged the error to neither the dependency nor the
// success path (caller cancellation is the common case). The slot must
// be released or the probe budget stays exhausted and the breaker can
// never leave half-open on its own.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenProbes > 0 {
		cb.halfOpenProbes--
	}
}

// RecordSuccess notes a successful call against the dependency. While
// half-open a single success closes the circuit and resets counters.
// A success while open is unexpected (the call should not have been
// admitted) and is only logged.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.totalSuccesses++
	case StateHalfOpen:
		cb.transitionLocked(StateClosed)
		cb.totalSuccesses++
	case StateOpen:
		cb.logger.Warn("success recorded while circuit open",
			"breaker", cb.name)
		cb.totalSuccesses++
	}
}

// RecordFailure notes a failed call against the dependency. Crossing the
// failure threshold while closed, or any failure while half-open, opens
// the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureAt = cb.nowFunc()

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= int64(cb.cfg.FailureThreshold) {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	case StateOpen:
		// Already open; the fresh lastFailureAt extends the recovery window.
	}
}

// Metrics returns a snapshot safe to serialize; it holds no references to
// internal breaker state.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := Metrics{
		Name:         cb.name,
		State:        cb.state,
		FailureCount: cb.consecutiveFailures,
		SuccessCount: cb.totalSuccesses,
	}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		m.LastFailureAt = &t
	}
	return m
}

// State returns the current admission state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset is the administrative override: it forces the breaker closed and
// zeroes all counters regardless of prior state. Restricted to operator
// use and always logged at warning level.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Warn("circuit breaker reset by operator",
		"breaker", cb.name,
		"previous_state", cb.state.String())

	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.totalSuccesses = 0
	cb.lastFailureAt = time.Time{}
	cb.halfOpenProbes = 0
}

// SetLogger overrides the logger used for transition and reset entries.
func (cb *CircuitBreaker) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	cb.mu.Lock()
	cb.logger = logger
	cb.mu.Unlock()
}

// SetNowFunc overrides the time source (for testing).
func (cb *CircuitBreaker) SetNowFunc(fn func() time.Time) {
	cb.mu.Lock()
	cb.nowFunc = fn
	cb.mu.Unlock()
}

// countsAsFailure applies the breaker's failure classifier.
func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	return cb.classify(err)
}

// transitionLocked moves the state machine and emits the single log entry
// for the transition. The caller must hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to

	switch to {
	case StateOpen:
		cb.halfOpenProbes = 0
		cb.logger.Error("circuit breaker opened",
			"breaker", cb.name,
			"from", from.String(),
			"consecutive_failures", cb.consecutiveFailures)
	case StateHalfOpen:
		cb.logger.Info("circuit breaker half-open, admitting probe",
			"breaker", cb.name)
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.totalSuccesses = 0
		cb.halfOpenProbes = 0
		cb.logger.Info("circuit breaker closed",
			"breaker", cb.name,
			"from", from.String())
	}
}
