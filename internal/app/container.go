package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"payup/internal/config"
	"payup/internal/crypto"
	"payup/internal/handler"
	"payup/internal/metrics"
	"payup/internal/queue"
	internalRedis "payup/internal/redis"
	"payup/internal/repository/postgres"
	"payup/internal/service"
	"payup/internal/webhook"
)

// Container holds the process-wide connections and the services built on them.
type Container struct {
	Config   *config.Config
	Logger   *slog.Logger
	NewRelic *newrelic.Application
	DB       *sql.DB
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Queue    queue.Queue
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	KV             *internalRedis.KVStore
	AppRepo        *postgres.AppRepository
	TemplateRepo   *internalRedis.TemplateCache
	PayupRepo      *postgres.PayupRepository
	OutboxRepo     *postgres.OutboxRepository
	AppService     *service.AppService
	SessionService *service.SessionService
}

// NewContainer connects to every backing service and wires the shared services.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Container, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	c.NewRelic = NewNewRelic(cfg.NewRelic, logger)

	if c.DB, err = NewDatabase(ctx, cfg.Database, c.NewRelic); err != nil {
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	if c.Pool, err = NewPool(ctx, cfg.Database); err != nil {
		return nil, err
	}

	if c.Redis, err = NewRedisClient(ctx, cfg.Redis, c.NewRelic); err != nil {
		return nil, err
	}
	logger.Info("connected to Redis")

	if c.Queue, err = NewQueue(cfg.Queue, c.Redis, logger); err != nil {
		return nil, err
	}

	sealer, err := crypto.NewSealer(cfg.Security.SealingKey)
	if err != nil {
		return nil, err
	}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(c.Registry)

	c.KV = internalRedis.NewKVStore(c.Redis)
	c.AppRepo = postgres.NewAppRepository(c.DB, sealer)
	c.TemplateRepo = internalRedis.NewTemplateCache(c.Redis, postgres.NewWebhookTemplateRepository(c.DB))
	c.PayupRepo = postgres.NewPayupRepository(c.DB)
	c.OutboxRepo = postgres.NewOutboxRepository(c.Pool)

	c.AppService = service.NewAppService(c.AppRepo, c.TemplateRepo, logger)
	c.SessionService = service.NewSessionService(
		c.KV, c.AppRepo, c.PayupRepo, postgres.NewTransactionRepository(c.DB), c.OutboxRepo, c.Queue, c.Metrics, logger,
		service.SessionConfig{
			TTL:        cfg.Session.TTL,
			Currencies: cfg.Session.Currencies,
			ClaimTTL:   cfg.Session.ClaimTTL,
			SettleWait: cfg.Session.SettleWait,
		},
	)

	return c, nil
}

// Router builds the HTTP API.
func (c *Container) Router() http.Handler {
	var metricsHandler http.Handler
	if c.Config.Metrics.Enabled {
		metricsHandler = c.MetricsHandler()
	}

	return NewRouter(RouterDeps{
		PayupHandler:     handler.NewPayupHandler(c.SessionService),
		AppHandler:       handler.NewAppHandler(c.AppService),
		Authenticator:    c.AppService,
		IdempotencyStore: c.KV,
		AdminToken:       c.Config.Security.AdminToken,
		NewRelicApp:      c.NewRelic,
		MetricsHandler:   metricsHandler,
		MetricsPath:      c.Config.Metrics.Path,
	})
}

// MetricsHandler exposes the container's Prometheus registry.
func (c *Container) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// Dispatcher builds the webhook dispatcher.
func (c *Container) Dispatcher() *webhook.Dispatcher {
	return webhook.NewDispatcher(
		c.AppRepo, c.TemplateRepo, internalRedis.NewDeliveryLedger(c.Redis), c.Metrics, c.Logger, c.NewRelic,
		webhook.DispatcherConfig{Timeout: c.Config.Webhook.Timeout, LockTTL: c.Config.Webhook.LockTTL},
	)
}

// Relay builds the outbox relay.
func (c *Container) Relay() *service.OutboxRelay {
	return service.NewOutboxRelay(c.OutboxRepo, c.Queue, c.Metrics, c.Logger, service.RelayConfig{
		Interval:  c.Config.Outbox.Interval,
		BatchSize: c.Config.Outbox.BatchSize,
		Grace:     c.Config.Outbox.Grace,
	})
}

// Close releases every connection that was opened.
func (c *Container) Close() error {
	var errs []error
	if c.Queue != nil {
		errs = append(errs, c.Queue.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	if c.NewRelic != nil {
		c.NewRelic.Shutdown(defaultShutdownTimeout)
	}
	return errors.Join(errs...)
}
