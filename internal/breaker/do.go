// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package breaker

import (
	"context"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// Do runs op through the breaker: admission check, attempt, then success
// or failure accounting according to the breaker's classifier. When the
// circuit denies admission the operation is never attempted and the caller
// receives a fast-fail breaker.admission.open error.
//
// The call-site contract stays explicit: callers that cannot use Do (for
// example because the attempt and the outcome are observed in different
// places) call CanExecute / RecordSuccess / RecordFailure directly, and
// ReleaseProbe when an admitted call ends in an uncharged error.
func Do[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if !cb.CanExecute() {
		return zero, mnemoerr.New(mnemoerr.CodeBreakerOpen, "circuit breaker open",
			mnemoerr.FieldBreaker(cb.Name()))
	}

	out, err := op(ctx)
	if err != nil {
		if cb.countsAsFailure(err) {
			cb.RecordFailure()
		} else {
			// Uncharged outcome: hand back any half-open probe slot so the
			// next caller can still probe the dependency.
			cb.ReleaseProbe()
		}
		return zero, err
	}

	cb.RecordSuccess()
	return out, nil
}
