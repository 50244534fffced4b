// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

// Package guard bounds how long any unit of work may run. It never
// retries and knows nothing about circuit breakers; callers compose the
// two explicitly.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// logger is swapped in tests; the default is the process-wide slog handler.
var logger = slog.Default()

// SetLogger overrides the logger used for timeout entries.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes fn under a context deadline. fn is expected to be
// cooperative: it receives the derived context and is cancelled at its
// next suspension point once the deadline fires. The caller is unblocked
// as soon as fn completes or the deadline elapses, whichever comes first.
//
// fields are caller-supplied log context (file path, repository,
// operation name) included in the structured timeout entry.
func Run[T any](ctx context.Context, timeout time.Duration, label string, fn func(context.Context) (T, error), fields ...any) (T, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan outcome[T], 1)
	go func() {
		value, err := fn(runCtx)
		ch <- outcome[T]{value: value, err: err}
	}()

	return await(runCtx, timeout, label, ch, fields)
}

// RunBlocking executes fn, which cannot be interrupted (CPU-bound
// synchronous work), on its own goroutine. The caller is unblocked at the
// deadline; the dispatched work is abandoned, never awaited further, and
// its eventual result is discarded. Abandoned work may keep consuming
// resources briefly after the caller times out; callers must only pass
// work that is safe to abandon (read-only parser invocations and the
// like).
func RunBlocking[T any](ctx context.Context, timeout time.Duration, label string, fn func() (T, error), fields ...any) (T, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan outcome[T], 1)
	go func() {
		value, err := fn()
		// Buffered channel: if the caller already gave up, the send still
		// completes and the goroutine exits.
		ch <- outcome[T]{value: value, err: err}
	}()

	return await(runCtx, timeout, label, ch, fields)
}

func await[T any](ctx context.Context, timeout time.Duration, label string, ch <-chan outcome[T], fields []any) (T, error) {
	var zero T

	select {
	case out := <-ch:
		// Cooperative work that observed our deadline reports the raw
		// context error; normalize it so callers see one timeout type.
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
			return zero, timeoutError(timeout, label, fields)
		}
		return out.value, out.err
	case <-ctx.Done():
		if ctx.Err() == context.Canceled {
			return zero, ctx.Err()
		}
		return zero, timeoutError(timeout, label, fields)
	}
}

func timeoutError(timeout time.Duration, label string, fields []any) error {
	entry := append([]any{
		"label", label,
		"timeout", timeout.String(),
		"guard_id", uuid.NewString(),
	}, fields...)
	logger.Warn("operation exceeded deadline", entry...)

	return mnemoerr.New(mnemoerr.CodeGuardTimeout, "operation exceeded deadline",
		mnemoerr.Field("label", label),
		mnemoerr.Field("timeout", timeout.String()))
}
