package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errPending = errors.New("pending")

func recordSleeps(delays *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 4 {
			return errPending
		}
		return nil
	}, recordSleeps(&delays))

	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, delays)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	var delays []time.Duration
	var retried []int
	calls := 0
	err := Do(context.Background(), func(context.Context, int) error {
		calls++
		return errPending
	}, WithMaxAttempts(3), recordSleeps(&delays), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}))

	require.ErrorIs(t, err, errPending)
	require.Equal(t, 3, calls)
	require.Len(t, delays, 2)
	require.Equal(t, []int{1, 2}, retried)
}

func TestDoReturnsPermanentImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(boom)
	}, WithRetryIf(func(error) bool { return true }))

	require.Equal(t, boom, err)
	require.False(t, IsPermanent(err))
	require.Equal(t, 1, calls)
}

func TestDoUsesRetryIf(t *testing.T) {
	var delays []time.Duration
	other := errors.New("other")
	calls := 0
	err := Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt == 2 {
			return other
		}
		return errPending
	}, WithRetryIf(func(err error) bool { return errors.Is(err, errPending) }), recordSleeps(&delays))

	require.Equal(t, other, err)
	require.Equal(t, 2, calls)
	require.Len(t, delays, 1)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errPending
	}, WithInitialDelay(time.Hour))

	require.ErrorIs(t, err, errPending)
	require.Equal(t, 1, calls)
}

func TestDoSkipsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func(context.Context, int) error {
		t.Fatal("operation must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoStopsWhenSleepFails(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context, int) error {
		calls++
		return errPending
	}, WithSleep(func(context.Context, time.Duration) error { return errors.New("interrupted") }))

	require.ErrorIs(t, err, errPending)
	require.Equal(t, 1, calls)
}

func TestDelayIsCapped(t *testing.T) {
	var delays []time.Duration
	_ = Do(context.Background(), func(context.Context, int) error {
		return errPending
	}, WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithMaxAttempts(5), recordSleeps(&delays))

	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}
