package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ranggacaw/treevest-backend/internal/cron"
	"github.com/ranggacaw/treevest-backend/internal/engine"
	"github.com/ranggacaw/treevest-backend/internal/payments"
	"github.com/ranggacaw/treevest-backend/pkg/config"
	"github.com/ranggacaw/treevest-backend/pkg/db"
	"github.com/ranggacaw/treevest-backend/pkg/instance"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/metrics"
	"github.com/ranggacaw/treevest-backend/pkg/migrate"
	"github.com/ranggacaw/treevest-backend/pkg/redis"
	pkgstripe "github.com/ranggacaw/treevest-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayParams{
		Client:  stripeClient,
		Metrics: metrics.NewPaymentGatewayMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	eng, err := engine.New(engine.Params{DB: dbClient, Gateway: gateway, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to wire ledgers", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, eng)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"interval":    cfg.Cron.Interval.String(),
		"jobs":        len(registry.Jobs()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, eng *engine.Engine) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	expiry, err := cron.NewPendingExpiryJob(cron.PendingExpiryJobParams{
		Logger:    logg,
		Expirer:   eng.Investments,
		TTL:       cfg.Investment.PendingTTL,
		BatchSize: cfg.Cron.ExpiryBatchLimit,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(expiry)

	reconcile, err := cron.NewIntentReconcileJob(cron.IntentReconcileJobParams{
		Logger:     logg,
		Reconciler: eng.Transactions,
		MinAge:     cfg.Cron.ReconcileMinAge,
		MaxAge:     cfg.Cron.ReconcileMaxAge,
		BatchSize:  cfg.Cron.ReconcileBatch,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(reconcile)

	webhookRetention, err := cron.NewWebhookRetentionJob(cron.WebhookRetentionJobParams{
		Logger:    logg,
		Events:    eng.Events,
		Inbox:     eng.Inbox,
		Retention: cfg.Webhook.EventRetention,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(webhookRetention)

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: eng.Outbox,
		Retention:  cfg.Outbox.PublishedRetention,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(outboxRetention)

	return registry, nil
}
