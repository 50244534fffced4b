// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giak/mnemo-lite-sub001/internal/guard"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

func TestRun_CompletesWithinDeadline(t *testing.T) {
	got, err := guard.Run(context.Background(), time.Second, "fast-op", func(ctx context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestRun_PropagatesWorkError(t *testing.T) {
	boom := errors.New("parse failed")
	_, err := guard.Run(context.Background(), time.Second, "op", func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}

// Spec scenario: work that sleeps 10s under a 1s deadline must return a
// timeout error within ~1s, not ~10s.
func TestRun_DeadlineUnblocksCaller(t *testing.T) {
	start := time.Now()

	_, err := guard.Run(context.Background(), time.Second, "slow-op", func(ctx context.Context) (string, error) {
		select {
		case <-time.After(10 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	elapsed := time.Since(start)
	require.Error(t, err)
	assert.True(t, mnemoerr.IsTimeout(err), "expected guard timeout, got %v", err)
	assert.Less(t, elapsed, 2*time.Second, "caller must be unblocked at the deadline")
	assert.GreaterOrEqual(t, elapsed, time.Second)
}

func TestRun_CooperativeWorkObservesCancellation(t *testing.T) {
	cancelled := make(chan struct{})

	_, err := guard.Run(context.Background(), 50*time.Millisecond, "coop-op", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(cancelled)
		return "", ctx.Err()
	})
	require.Error(t, err)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("wrapped work never observed cancellation")
	}
}

func TestRun_CallerCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := guard.Run(ctx, time.Minute, "cancelled-op", func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		done <- err
	}()

	cancel()
	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, mnemoerr.IsTimeout(err))
}

func TestRunBlocking_UnblocksAtDeadline(t *testing.T) {
	start := time.Now()

	_, err := guard.RunBlocking(context.Background(), 100*time.Millisecond, "blocking-op", func() (int, error) {
		// Non-preemptible work: ignores any cancellation signal.
		time.Sleep(3 * time.Second)
		return 1, nil
	})

	elapsed := time.Since(start)
	require.Error(t, err)
	assert.True(t, mnemoerr.IsTimeout(err))
	assert.Less(t, elapsed, time.Second, "caller must not wait for the abandoned work")
}

func TestRunBlocking_ResultBeforeDeadline(t *testing.T) {
	got, err := guard.RunBlocking(context.Background(), time.Second, "quick-op", func() (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestRunBlocking_AbandonedResultDiscarded(t *testing.T) {
	finished := make(chan struct{})

	_, err := guard.RunBlocking(context.Background(), 20*time.Millisecond, "abandoned-op", func() (int, error) {
		defer close(finished)
		time.Sleep(100 * time.Millisecond)
		return 99, nil
	})
	require.Error(t, err)

	// The abandoned goroutine must still be able to finish (buffered
	// channel, no blocked send).
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("abandoned work never completed")
	}
}

func TestTimeoutError_CarriesLabel(t *testing.T) {
	_, err := guard.Run(context.Background(), 10*time.Millisecond, "labelled-op", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, "repository", "acme/widgets", "path", "src/main.go")
	require.Error(t, err)

	fields := mnemoerr.FieldsOf(err)
	assert.Equal(t, "labelled-op", fields["label"])
	assert.Equal(t, mnemoerr.CodeGuardTimeout, mnemoerr.CodeOf(err))
}
