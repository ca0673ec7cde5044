package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/di"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/metrics"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/config"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "reconcile-worker",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting reconcile worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "reconcile-worker",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry disabled", zap.Error(err))
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()
	if err := metrics.Init(); err != nil {
		appLog.Warn("Metrics disabled", zap.Error(err))
	}

	container, err := di.Build(ctx, cfg)
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}
	defer container.Close()

	if err := container.ReconcileWorker.Start(ctx); err != nil {
		appLog.Fatal("Failed to start reconcile worker", zap.Error(err))
	}
	appLog.Info("Reconcile worker started",
		zap.Duration("interval", cfg.Reconcile.SweepInterval),
		zap.Duration("grace_window", cfg.Reconcile.GraceWindow),
	)

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	container.ReconcileWorker.Stop()

	stats := container.ReconcileWorker.GetStats()
	appLog.Info("Worker exited gracefully",
		zap.Int64("runs", stats.TotalRuns),
		zap.Int64("advanced", stats.TotalAdvanced),
	)
}
