package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ranggacaw/treevest-backend/internal/engine"
	"github.com/ranggacaw/treevest-backend/internal/payments"
	stripewebhook "github.com/ranggacaw/treevest-backend/internal/webhooks/stripe"
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
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	recent, err := stripewebhook.NewRecentEvents(redisClient, cfg.Webhook.RecentEventTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook dedup cache", err)
		os.Exit(1)
	}

	eng, err := engine.New(engine.Params{
		DB:             dbClient,
		Gateway:        gateway,
		Recent:         recent,
		WebhookMetrics: metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire ledgers", err)
		os.Exit(1)
	}

	inboxWorker, err := stripewebhook.NewWorker(stripewebhook.WorkerParams{
		Inbox:        eng.Inbox,
		Handler:      eng.Webhooks,
		Workers:      cfg.Webhook.Workers,
		BatchSize:    cfg.Webhook.BatchSize,
		PollInterval: cfg.Webhook.PollInterval,
		MaxAttempts:  cfg.Webhook.MaxAttempts,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inbox worker", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger: logg,
		DB:     dbClient,
		Redis:  redisClient,
		Worker: inboxWorker,
		Inbox:  eng.Inbox,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"workers":     cfg.Webhook.Workers,
	})
	logg.Info(ctx, "starting webhook inbox worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
