package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSweeper struct {
	calls atomic.Int32
	fn    func(ctx context.Context) (*service.SweepResult, error)
}

func (m *mockSweeper) ReconcileTimeouts(ctx context.Context) (*service.SweepResult, error) {
	m.calls.Add(1)
	if m.fn != nil {
		return m.fn(ctx)
	}
	return &service.SweepResult{}, nil
}

func TestReconcileWorker_RunOnce(t *testing.T) {
	sweeper := &mockSweeper{
		fn: func(ctx context.Context) (*service.SweepResult, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return &service.SweepResult{Scanned: 4, Confirmed: 1, Cancelled: 2, Failed: 1}, nil
		},
	}
	w := NewReconcileWorker(sweeper, &ReconcileWorkerConfig{ScanInterval: time.Hour, SweepTimeout: time.Second})

	w.RunOnce(context.Background())
	w.RunOnce(context.Background())

	stats := w.GetStats()
	assert.Equal(t, int64(2), stats.TotalRuns)
	assert.Equal(t, int64(6), stats.TotalAdvanced)
	assert.Equal(t, int64(2), stats.TotalFailed)
	assert.Equal(t, 4, stats.LastScanned)
	assert.Empty(t, stats.LastError)
}

func TestReconcileWorker_RecordsSweepErrors(t *testing.T) {
	sweeper := &mockSweeper{
		fn: func(ctx context.Context) (*service.SweepResult, error) {
			return nil, errors.New("database unavailable")
		},
	}
	w := NewReconcileWorker(sweeper, nil)

	w.RunOnce(context.Background())

	stats := w.GetStats()
	assert.Equal(t, int64(1), stats.TotalRuns)
	assert.Equal(t, "database unavailable", stats.LastError)
}

func TestReconcileWorker_StartStop(t *testing.T) {
	sweeper := &mockSweeper{}
	w := NewReconcileWorker(sweeper, &ReconcileWorkerConfig{ScanInterval: 10 * time.Millisecond})

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.False(t, w.GetStats().IsRunning)

	calls := sweeper.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, sweeper.calls.Load())

	// stopping twice is a no-op
	w.Stop()
}

func TestReconcileWorker_StopsWithContext(t *testing.T) {
	sweeper := &mockSweeper{}
	w := NewReconcileWorker(sweeper, &ReconcileWorkerConfig{ScanInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
