package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/service"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"go.uber.org/zap"
)

// Sweeper runs one reconciliation sweep
type Sweeper interface {
	ReconcileTimeouts(ctx context.Context) (*service.SweepResult, error)
}

// ReconcileWorkerConfig contains configuration for the reconcile worker
type ReconcileWorkerConfig struct {
	// ScanInterval is the interval between sweeps
	ScanInterval time.Duration
	// SweepTimeout bounds a single sweep
	SweepTimeout time.Duration
}

// DefaultReconcileWorkerConfig returns default configuration
func DefaultReconcileWorkerConfig() *ReconcileWorkerConfig {
	return &ReconcileWorkerConfig{
		ScanInterval: time.Minute,
		SweepTimeout: 30 * time.Second,
	}
}

// ReconcileWorker periodically resolves stale bookings
type ReconcileWorker struct {
	sweeper Sweeper
	config  *ReconcileWorkerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalRuns     int64
	totalAdvanced int64
	totalFailed   int64
	lastRunTime   time.Time
	lastResult    *service.SweepResult
	lastError     string
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(sweeper Sweeper, config *ReconcileWorkerConfig) *ReconcileWorker {
	if config == nil {
		config = DefaultReconcileWorkerConfig()
	}
	defaults := DefaultReconcileWorkerConfig()
	if config.ScanInterval <= 0 {
		config.ScanInterval = defaults.ScanInterval
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = defaults.SweepTimeout
	}

	return &ReconcileWorker{
		sweeper: sweeper,
		config:  config,
		log:     logger.Get(),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the reconcile worker
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reconcile worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting reconcile worker", zap.Duration("interval", w.config.ScanInterval))

	w.wg.Add(1)
	go w.loop(ctx)

	return nil
}

// Stop stops the worker and waits for an in-flight sweep to finish
func (w *ReconcileWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("stopping reconcile worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("reconcile worker stopped")
}

func (w *ReconcileWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep
func (w *ReconcileWorker) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.config.SweepTimeout)
	defer cancel()

	start := time.Now()
	result, err := w.sweeper.ReconcileTimeouts(ctx)

	w.mu.Lock()
	w.totalRuns++
	w.lastRunTime = start
	if err != nil {
		w.lastError = err.Error()
	} else {
		w.lastError = ""
		w.lastResult = result
		w.totalAdvanced += int64(result.Advanced())
		w.totalFailed += int64(result.Failed)
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("reconcile sweep failed", zap.Error(err))
		return
	}
	if result.Scanned == 0 {
		return
	}
	w.log.Info("reconcile sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("confirmed", result.Confirmed),
		zap.Int("cancelled", result.Cancelled),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
		zap.Duration("took", time.Since(start)),
	)
}

// GetStats returns worker statistics
func (w *ReconcileWorker) GetStats() *ReconcileWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := &ReconcileWorkerStats{
		IsRunning:     w.running,
		TotalRuns:     w.totalRuns,
		TotalAdvanced: w.totalAdvanced,
		TotalFailed:   w.totalFailed,
		LastRunTime:   w.lastRunTime,
		LastError:     w.lastError,
	}
	if w.lastResult != nil {
		stats.LastScanned = w.lastResult.Scanned
	}
	return stats
}

// ReconcileWorkerStats contains worker statistics
type ReconcileWorkerStats struct {
	IsRunning     bool      `json:"is_running"`
	TotalRuns     int64     `json:"total_runs"`
	TotalAdvanced int64     `json:"total_advanced"`
	TotalFailed   int64     `json:"total_failed"`
	LastRunTime   time.Time `json:"last_run_time"`
	LastScanned   int       `json:"last_scanned"`
	LastError     string    `json:"last_error,omitempty"`
}
