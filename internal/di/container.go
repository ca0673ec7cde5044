package di

import (
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/gateway"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/handler"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/ledger"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/notify"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/repository"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/service"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/webhook"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/worker"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/redis"
)

// Container holds all dependencies for the reconciliation service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	BookingRepo   repository.BookingRepository
	IntentRepo    repository.IntentRepository
	WebhookEvents repository.WebhookEventStore
	Anomalies     repository.AnomalyStore
	Catalog       repository.CatalogReader

	// Payments
	Gateway gateway.PaymentGateway
	Ledger  *ledger.Ledger

	// Publishers
	Publisher notify.Publisher

	// Services
	ReconciliationService service.ReconciliationService
	Ingestor              *webhook.Ingestor

	// Handlers
	HealthHandler  *handler.HealthHandler
	BookingHandler *handler.BookingHandler
	PaymentHandler *handler.PaymentHandler
	WebhookHandler *handler.WebhookHandler

	// Workers
	ReconcileWorker *worker.ReconcileWorker
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB            *database.PostgresDB
	Redis         *redis.Client
	BookingRepo   repository.BookingRepository
	IntentRepo    repository.IntentRepository
	WebhookEvents repository.WebhookEventStore
	Anomalies     repository.AnomalyStore
	Catalog       repository.CatalogReader
	Gateway       gateway.PaymentGateway
	LedgerStore   ledger.Store
	Publisher     notify.Publisher
	ServiceConfig *service.ReconciliationServiceConfig
	WebhookConfig *webhook.IngestorConfig
	WorkerConfig  *worker.ReconcileWorkerConfig
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	c := &Container{
		DB:            cfg.DB,
		Redis:         cfg.Redis,
		BookingRepo:   cfg.BookingRepo,
		IntentRepo:    cfg.IntentRepo,
		WebhookEvents: cfg.WebhookEvents,
		Anomalies:     cfg.Anomalies,
		Catalog:       cfg.Catalog,
		Gateway:       cfg.Gateway,
		Ledger:        ledger.New(cfg.LedgerStore),
		Publisher:     cfg.Publisher,
	}

	// Initialize services
	c.ReconciliationService = service.NewReconciliationService(service.ReconciliationDeps{
		Bookings:        c.BookingRepo,
		Intents:         c.IntentRepo,
		Anomalies:       c.Anomalies,
		Catalog:         c.Catalog,
		Gateway:         c.Gateway,
		Ledger:          c.Ledger,
		Notifier:        c.Publisher,
		AnomalyReporter: c.Publisher,
	}, cfg.ServiceConfig)

	ingestor, err := webhook.NewIngestor(cfg.WebhookConfig, c.WebhookEvents)
	if err != nil {
		return nil, err
	}
	c.Ingestor = ingestor

	// Initialize handlers
	checks := map[string]handler.HealthChecker{
		"database": nil,
		"redis":    nil,
	}
	if c.DB != nil {
		checks["database"] = c.DB
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.BookingHandler = handler.NewBookingHandler(c.ReconciliationService)
	c.PaymentHandler = handler.NewPaymentHandler(c.ReconciliationService)
	c.WebhookHandler = handler.NewWebhookHandler(c.Ingestor, c.ReconciliationService)

	c.ReconcileWorker = worker.NewReconcileWorker(c.ReconciliationService, cfg.WorkerConfig)

	return c, nil
}
