package di

import (
	"context"
	"fmt"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/gateway"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/ledger"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/notify"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/repository"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/service"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/webhook"
	"github.com/MRNMT/HopInBookingSystem-sub001/internal/worker"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/config"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/logger"
	pkgredis "github.com/MRNMT/HopInBookingSystem-sub001/pkg/redis"
	"go.uber.org/zap"
)

// Ledger store backends
const (
	LedgerStorePostgres = "postgres"
	LedgerStoreRedis    = "redis"
	LedgerStoreMemory   = "memory"
)

// Build connects the infrastructure named in cfg and assembles the container.
// With the database disabled every repository is in-memory, which is only
// suitable for local runs.
func Build(ctx context.Context, cfg *config.Config) (*Container, error) {
	log := logger.Get()
	cc := &ContainerConfig{}

	if cfg.Database.Enabled {
		dbCfg := &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
		}
		db, err := database.NewPostgres(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		cc.DB = db
		log.Info("database connected",
			zap.Int32("min_conns", dbCfg.MinConns),
			zap.Int32("max_conns", dbCfg.MaxConns),
		)

		cc.BookingRepo = repository.NewPostgresBookingRepository(db)
		cc.IntentRepo = repository.NewPostgresIntentRepository(db)
		cc.WebhookEvents = repository.NewPostgresWebhookEventStore(db)
		cc.Anomalies = repository.NewPostgresAnomalyStore(db)
		cc.Catalog = repository.NewPostgresCatalogReader(db)
	} else {
		log.Warn("database disabled, using in-memory repositories")
		cc.BookingRepo = repository.NewMemoryBookingRepository()
		cc.IntentRepo = repository.NewMemoryIntentRepository()
		cc.WebhookEvents = repository.NewMemoryWebhookEventStore()
		cc.Anomalies = repository.NewMemoryAnomalyStore()
		cc.Catalog = repository.NewMemoryCatalogReader()
	}

	if cfg.Redis.Enabled {
		redisCfg := &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			PoolTimeout:   4 * time.Second,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
		}
		client, err := pkgredis.NewClient(ctx, redisCfg)
		if err != nil {
			closeInfra(cc)
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		cc.Redis = client
		log.Info("redis connected", zap.String("addr", redisCfg.Addr()))
	}

	store, err := ledgerStore(cfg, cc)
	if err != nil {
		closeInfra(cc)
		return nil, err
	}
	cc.LedgerStore = store

	gw, err := gateway.NewPaymentGateway(cfg.Payment.Gateway, &gateway.GatewayConfig{
		SecretKey: cfg.Payment.StripeSecretKey,
		Timeout:   cfg.Payment.GatewayTimeout,
		Mock:      gateway.DefaultMockGatewayConfig(),
	})
	if err != nil {
		closeInfra(cc)
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	cc.Gateway = gw
	log.Info("payment gateway ready", zap.String("gateway", gw.Name()))

	cc.Publisher = newPublisher(ctx, cfg)

	cc.ServiceConfig = &service.ReconciliationServiceConfig{
		GraceWindow:        cfg.Reconcile.GraceWindow,
		BatchSize:          cfg.Reconcile.BatchSize,
		MaxConflictRetries: cfg.Reconcile.MaxConflictRetries,
		DefaultCurrency:    cfg.Payment.Currency,
	}
	cc.WebhookConfig = &webhook.IngestorConfig{
		Provider:  cfg.Payment.Gateway,
		Secret:    webhookSecret(cfg),
		Tolerance: cfg.Payment.WebhookTolerance,
	}
	cc.WorkerConfig = &worker.ReconcileWorkerConfig{
		ScanInterval: cfg.Reconcile.SweepInterval,
	}

	c, err := NewContainer(cc)
	if err != nil {
		_ = cc.Publisher.Close()
		closeInfra(cc)
		return nil, err
	}
	return c, nil
}

func ledgerStore(cfg *config.Config, cc *ContainerConfig) (ledger.Store, error) {
	switch cfg.Payment.LedgerStore {
	case LedgerStorePostgres:
		if cc.DB == nil {
			return nil, fmt.Errorf("ledger store %q requires the database", cfg.Payment.LedgerStore)
		}
		return ledger.NewPostgresStore(cc.DB), nil
	case LedgerStoreRedis:
		if cc.Redis == nil {
			return nil, fmt.Errorf("ledger store %q requires redis", cfg.Payment.LedgerStore)
		}
		return ledger.NewRedisStore(cc.Redis, cfg.Payment.LedgerTTL), nil
	case LedgerStoreMemory, "":
		return ledger.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger store: %s", cfg.Payment.LedgerStore)
	}
}

func newPublisher(ctx context.Context, cfg *config.Config) notify.Publisher {
	log := logger.Get()
	if !cfg.Kafka.Enabled {
		return notify.NewLogPublisher(log)
	}

	p, err := notify.NewKafkaPublisher(ctx, &notify.KafkaPublisherConfig{
		Brokers:           cfg.Kafka.Brokers,
		ClientID:          cfg.Kafka.ClientID,
		NotificationTopic: cfg.Kafka.NotificationTopic,
		AnomalyTopic:      cfg.Kafka.AnomalyTopic,
		ServiceName:       cfg.App.Name,
	})
	if err != nil {
		log.Warn("kafka connection failed, notifications go to the log", zap.Error(err))
		return notify.NewLogPublisher(log)
	}
	log.Info("kafka publisher connected", zap.Strings("brokers", cfg.Kafka.Brokers))
	return p
}

func webhookSecret(cfg *config.Config) string {
	if gateway.GatewayType(cfg.Payment.Gateway) == gateway.GatewayTypeStripe {
		return cfg.Payment.StripeWebhookSecret
	}
	return cfg.Payment.MockWebhookSecret
}

func closeInfra(cc *ContainerConfig) {
	if cc.Redis != nil {
		_ = cc.Redis.Close()
	}
	if cc.DB != nil {
		cc.DB.Close()
	}
}

// Close releases the publisher and connections
func (c *Container) Close() {
	log := logger.Get()
	if c.ReconcileWorker != nil {
		c.ReconcileWorker.Stop()
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			log.Warn("failed to close publisher", zap.Error(err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn("failed to close redis", zap.Error(err))
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
