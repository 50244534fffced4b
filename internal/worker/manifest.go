// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

// Package worker supervises the long-lived language-analysis worker
// processes. Each worker kind has at most one live process, created
// lazily on first use and replaced when its liveness probe fails.
package worker

import (
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// kindRe matches valid worker kind identifiers.
var kindRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

const (
	defaultCallTimeout      = 5 * time.Second
	minCallTimeout          = 3 * time.Second
	maxCallTimeout          = 10 * time.Second
	defaultFailureThreshold = 3
	defaultRecoveryTimeout  = 60 * time.Second
)

// KindSpec declares one worker kind: the command that runs it, its call
// deadline, and whether losing it degrades the whole system. Duration
// fields use Go duration syntax ("5s", "1m30s").
type KindSpec struct {
	Kind             string   `yaml:"kind"`
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args,omitempty"`
	CallTimeout      string   `yaml:"call_timeout,omitempty"`
	Critical         bool     `yaml:"critical,omitempty"`
	FailureThreshold int      `yaml:"failure_threshold,omitempty"`
	RecoveryTimeout  string   `yaml:"recovery_timeout,omitempty"`

	callTimeout     time.Duration
	recoveryTimeout time.Duration
}

// CallDeadline is the resolved per-call timeout for this kind.
func (s *KindSpec) CallDeadline() time.Duration { return s.callTimeout }

// Recovery is the resolved breaker recovery timeout for this kind.
func (s *KindSpec) Recovery() time.Duration { return s.recoveryTimeout }

// NewKindSpec builds a resolved spec programmatically, for callers that
// assemble worker kinds from configuration instead of a manifest file.
// Zero durations and threshold fall back to the package defaults.
func NewKindSpec(kind, command string, args []string, callTimeout, recoveryTimeout time.Duration, threshold int, critical bool) KindSpec {
	if callTimeout == 0 {
		callTimeout = defaultCallTimeout
	}
	if recoveryTimeout == 0 {
		recoveryTimeout = defaultRecoveryTimeout
	}
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}

	return KindSpec{
		Kind:             kind,
		Command:          command,
		Args:             args,
		Critical:         critical,
		FailureThreshold: threshold,
		callTimeout:      callTimeout,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Manifest is the parsed workers.yaml file.
type Manifest struct {
	Workers []KindSpec `yaml:"workers"`
}

// ParseManifest parses YAML data, applies defaults, and validates every
// declared kind.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid, "manifest parse: %s", err)
	}

	if errs := m.resolve(); len(errs) > 0 {
		return nil, errs[0]
	}
	if errs := m.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}

	return &m, nil
}

// resolve parses duration strings and fills in defaults.
func (m *Manifest) resolve() []error {
	var errs []error

	for i := range m.Workers {
		spec := &m.Workers[i]

		spec.callTimeout = defaultCallTimeout
		if spec.CallTimeout != "" {
			d, err := time.ParseDuration(spec.CallTimeout)
			if err != nil {
				errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid,
					"manifest validation: workers[%d]: call_timeout %q is not a duration", i, spec.CallTimeout))
				continue
			}
			spec.callTimeout = d
		}

		spec.recoveryTimeout = defaultRecoveryTimeout
		if spec.RecoveryTimeout != "" {
			d, err := time.ParseDuration(spec.RecoveryTimeout)
			if err != nil {
				errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid,
					"manifest validation: workers[%d]: recovery_timeout %q is not a duration", i, spec.RecoveryTimeout))
				continue
			}
			spec.recoveryTimeout = d
		}

		if spec.FailureThreshold == 0 {
			spec.FailureThreshold = defaultFailureThreshold
		}
	}

	return errs
}

// Validate checks the manifest, returning all errors found rather than
// stopping at the first one.
func (m *Manifest) Validate() []error {
	var errs []error

	seen := make(map[string]bool, len(m.Workers))
	for i, spec := range m.Workers {
		if strings.TrimSpace(spec.Kind) == "" {
			errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid,
				"manifest validation: workers[%d]: kind must not be empty", i))
		} else if !kindRe.MatchString(spec.Kind) {
			errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid,
				"manifest validation: workers[%d]: kind %q contains invalid characters", i, spec.Kind))
		} else if seen[spec.Kind] {
			errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid,
				"manifest validation: workers[%d]: duplicate kind %q", i, spec.Kind))
		}
		seen[spec.Kind] = true

		if strings.TrimSpace(spec.Command) == "" {
			errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid,
				"manifest validation: workers[%d]: command must not be empty", i))
		}

		if spec.callTimeout < minCallTimeout || spec.callTimeout > maxCallTimeout {
			errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid,
				"manifest validation: workers[%d]: call_timeout must be between %s and %s, got %s",
				i, minCallTimeout, maxCallTimeout, spec.callTimeout))
		}

		if spec.FailureThreshold < 0 {
			errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeWorkerManifestInvalid,
				"manifest validation: workers[%d]: failure_threshold must not be negative", i))
		}
	}

	return errs
}
