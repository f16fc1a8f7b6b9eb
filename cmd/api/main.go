package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ranggacaw/treevest-backend/api/routes"
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

const (
	shutdownTimeout = 20 * time.Second
	recentScope     = "stripe-webhook"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayParams{
		Client:  stripeClient,
		Metrics: metrics.NewPaymentGatewayMetrics(registry),
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	recent, err := stripewebhook.NewRecentEvents(redisClient, cfg.Webhook.RecentEventTTL, recentScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook dedup cache", err)
		os.Exit(1)
	}

	eng, err := engine.New(engine.Params{
		DB:             dbClient,
		Gateway:        gateway,
		Recent:         recent,
		WebhookMetrics: metrics.NewWebhookMetrics(registry),
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire ledgers", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"instance":     instance.GetID(),
		"webhook_mode": cfg.Webhook.Mode,
		"stripe_env":   stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			eng.Investments,
			eng.Transactions,
			stripeClient,
			eng.Webhooks,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
