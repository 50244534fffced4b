// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package breaker

import (
	"sort"
	"sync"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
	"github.com/giak/mnemo-lite-sub001/pkg/health"
)

// Registry holds the named breakers of the process so the health surface
// and the administrative reset can reach them. It is constructed once at
// startup and injected; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*registered
}

type registered struct {
	cb       *CircuitBreaker
	critical bool
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*registered),
	}
}

// Register adds a breaker under its own name. Critical breakers mark the
// whole system degraded while open. Re-registering a name replaces the
// previous entry.
func (r *Registry) Register(cb *CircuitBreaker, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.Name()] = &registered{cb: cb, critical: critical}
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.breakers[name]
	if !ok {
		return nil, false
	}
	return reg.cb, true
}

// Reset performs the operator override on the named breaker.
func (r *Registry) Reset(name string) error {
	cb, ok := r.Get(name)
	if !ok {
		return mnemoerr.Errorf(mnemoerr.CodeBreakerUnknown, "breaker %q not registered", name)
	}

	cb.Reset()
	return nil
}

// Snapshot returns the status of every registered breaker, sorted by name
// for stable health output.
func (r *Registry) Snapshot() []health.BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]health.BreakerStatus, 0, len(r.breakers))
	for _, reg := range r.breakers {
		m := reg.cb.Metrics()
		out = append(out, health.BreakerStatus{
			Name:          m.Name,
			State:         m.State.String(),
			FailureCount:  m.FailureCount,
			SuccessCount:  m.SuccessCount,
			LastFailureAt: m.LastFailureAt,
			Critical:      reg.critical,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
