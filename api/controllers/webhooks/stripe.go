package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/ranggacaw/treevest-backend/api/responses"
	stripewebhook "github.com/ranggacaw/treevest-backend/internal/webhooks/stripe"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
)

const maxPayloadBytes = 65536

type StripeWebhookService interface {
	Enqueue(ctx context.Context, event *stripe.Event, payload []byte) (bool, error)
	HandleEvent(ctx context.Context, event *stripe.Event) (string, error)
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies a Stripe delivery and either queues it for the
// inbox workers or applies it inline. Both answer 202.
func StripeWebhook(svc StripeWebhookService, client stripeClient, queued bool, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		event, err := stripewebhook.ParseEvent(payload, r.Header.Get("Stripe-Signature"), client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithEvent(ctx, event.ID, string(event.Type))
		}

		if queued {
			if _, err := svc.Enqueue(ctx, event, payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
			return
		}

		result, err := svc.HandleEvent(ctx, event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": result})
	}
}
