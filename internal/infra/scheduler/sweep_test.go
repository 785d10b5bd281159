package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeReconciler struct {
	calls     atomic.Int32
	olderThan atomic.Int64
	err       error
}

func (f *fakeReconciler) ReconcilePending(_ context.Context, olderThan time.Duration, _ int) (int, error) {
	f.calls.Add(1)
	f.olderThan.Store(int64(olderThan))
	return 1, f.err
}

func TestEnrollmentSweepRunsPeriodically(t *testing.T) {
	rec := &fakeReconciler{}
	sweep, err := NewEnrollmentSweep(rec, SweepConfig{Interval: 20 * time.Millisecond, StaleAfter: time.Minute}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweep.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(time.Minute), rec.olderThan.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop")
	}
}

func TestRunOnceSkipsCancelledContext(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("boom")}
	sweep, err := NewEnrollmentSweep(rec, SweepConfig{}, nil)
	require.NoError(t, err)

	sweep.RunOnce(context.Background())
	require.Equal(t, int32(1), rec.calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweep.RunOnce(ctx)
	require.Equal(t, int32(1), rec.calls.Load())
}
