package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ranggacaw/treevest-backend/internal/analytics/router"
	"github.com/ranggacaw/treevest-backend/internal/analytics/worker"
	"github.com/ranggacaw/treevest-backend/internal/analytics/writer"
	"github.com/ranggacaw/treevest-backend/pkg/bigquery"
	"github.com/ranggacaw/treevest-backend/pkg/config"
	"github.com/ranggacaw/treevest-backend/pkg/instance"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/idempotency"
	"github.com/ranggacaw/treevest-backend/pkg/pubsub"
	"github.com/ranggacaw/treevest-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "analytics-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "analytics-worker"

	logg = logger.New(logger.Options{
		ServiceName: "analytics-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "analytics subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	analyticsWriter, err := writer.New(bqClient, writer.Config{
		InvestmentTable: cfg.BigQuery.InvestmentEventsTable,
	})
	requireResource(ctx, logg, "analytics bigquery writer", err)

	routingHandler, err := router.NewRouter(analyticsWriter, logg, nil)
	requireResource(ctx, logg, "analytics router", err)

	service, err := worker.NewService(subscription, routingHandler, manager, logg)
	requireResource(ctx, logg, "analytics worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"table":       cfg.BigQuery.InvestmentEventsTable,
	})
	logg.Info(runCtx, "analytics worker ready")

	runErr := service.Run(runCtx)
	if err := analyticsWriter.Flush(context.WithoutCancel(runCtx)); err != nil {
		logg.Error(runCtx, "failed to flush buffered analytics rows", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", runErr)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
