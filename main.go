package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/di"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/metrics"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/config"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/middleware"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/telemetry"
	"github.com/gin-gonic/gin"
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
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting reconciliation service...", zap.String("version", cfg.App.Version))

	ctx := context.Background()

	// Initialize telemetry
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()
	if err := metrics.Init(); err != nil {
		appLog.Warn("Metrics disabled", zap.Error(err))
	}

	// Build dependency injection container
	container, err := di.Build(ctx, cfg)
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}
	defer container.Close()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(telemetry.TracingMiddleware(cfg.OTel.ServiceName))
	router.Use(middleware.Logger(appLog))

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		// Gateway callbacks authenticate by signature, not by user token
		v1.POST("/payments/webhook", container.WebhookHandler.HandleWebhook)

		authed := v1.Group("")
		authed.Use(middleware.Auth(&middleware.AuthConfig{
			JWTSecret:          cfg.JWT.Secret,
			Issuer:             cfg.JWT.Issuer,
			TrustGatewayHeader: cfg.JWT.TrustGatewayHeader,
		}))
		authed.Use(middleware.IdempotencyKey())

		bookings := authed.Group("/bookings")
		{
			bookings.POST("", container.BookingHandler.CreateBooking)
			bookings.GET("", container.BookingHandler.ListMyBookings)
			bookings.GET("/my-bookings", container.BookingHandler.ListMyBookings)
			bookings.GET("/:id", container.BookingHandler.GetBooking)
			bookings.POST("/:id/confirm", container.BookingHandler.ConfirmBooking)
			bookings.POST("/:id/cancel", container.BookingHandler.CancelBooking)
		}

		payments := authed.Group("/payments")
		{
			payments.POST("/create-intent", container.PaymentHandler.CreateIntent)
			payments.POST("/confirm", container.PaymentHandler.ConfirmPayment)
			payments.GET("/status/:paymentIntentId", container.PaymentHandler.PaymentStatus)
		}
	}

	// Start the timeout sweep in-process unless a dedicated worker runs it
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.Reconcile.WorkerEnabled {
		if err := container.ReconcileWorker.Start(workerCtx); err != nil {
			appLog.Fatal("Failed to start reconcile worker", zap.Error(err))
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		appLog.Info("Reconciliation service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}
	stopWorker()

	appLog.Info("Server exited gracefully")
}
