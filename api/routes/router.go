package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ranggacaw/treevest-backend/api/controllers"
	investmentcontrollers "github.com/ranggacaw/treevest-backend/api/controllers/investments"
	transactioncontrollers "github.com/ranggacaw/treevest-backend/api/controllers/transactions"
	webhookcontrollers "github.com/ranggacaw/treevest-backend/api/controllers/webhooks"
	"github.com/ranggacaw/treevest-backend/api/middleware"
	"github.com/ranggacaw/treevest-backend/internal/investments"
	"github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/pkg/config"
	"github.com/ranggacaw/treevest-backend/pkg/db"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/redis"
)

// cacheStore is the Redis surface the HTTP layer needs.
type cacheStore interface {
	redis.IdempotencyStore
	redis.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type signingSecretSource interface {
	SigningSecret() string
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache cacheStore,
	gatherer prometheus.Gatherer,
	investmentService investments.Service,
	transactionService transactions.Service,
	stripeClient signingSecretSource,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	purchasePolicy := middleware.NewRateLimitPolicy(
		"purchase",
		cfg.RateLimit.PurchaseWindow,
		cfg.RateLimit.PurchaseLimit,
	)
	idempotent := middleware.Idempotency(cache, cfg.Eventing.HTTPIdempotencyTTL, logg)
	throttled := middleware.RateLimit(purchasePolicy, cache, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cache))
	})
	r.Method(http.MethodGet, "/metrics", controllers.Metrics(gatherer))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, cfg.Webhook.Queued(), logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/investments", investmentcontrollers.List(investmentService, logg))
		r.With(throttled, idempotent).Post("/investments", investmentcontrollers.Create(investmentService, logg))
		r.Route("/investments/{investmentId}", func(r chi.Router) {
			r.Get("/", investmentcontrollers.Detail(investmentService, logg))
			r.Delete("/", investmentcontrollers.Delete(investmentService, logg))
			r.With(idempotent).Post("/cancel", investmentcontrollers.Cancel(investmentService, logg))
			r.With(throttled, idempotent).Post("/top-up", investmentcontrollers.TopUp(investmentService, logg))
			r.With(throttled, idempotent).Post("/retry-payment", investmentcontrollers.RetryPayment(investmentService, logg))
		})

		r.Get("/transactions/{transactionId}", transactioncontrollers.Get(transactionService, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))

		r.With(idempotent).Post("/investments/{investmentId}/mature", investmentcontrollers.Mature(investmentService, logg))
		r.With(idempotent).Post("/transactions/{transactionId}/refund", transactioncontrollers.SettleRefund(transactionService, logg))
	})

	return r
}
