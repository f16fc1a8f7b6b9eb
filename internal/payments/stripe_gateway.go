package payments

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/metrics"
	pkgstripe "github.com/ranggacaw/treevest-backend/pkg/stripe"
)

const (
	opCreateIntent = "create_intent"
	opCancelIntent = "cancel_intent"
	opGetIntent    = "get_intent"

	outcomeOK       = "ok"
	outcomeUnknown  = "unknown"
	outcomeDeclined = "declined"
)

// intentAPI exposes the subset of Stripe PaymentIntent calls the gateway needs.
type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeIntentAPI struct{}

func (stripeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (stripeIntentAPI) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Cancel(id, params)
}

func (stripeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Get(id, params)
}

type StripeGatewayParams struct {
	Client  *pkgstripe.Client
	Metrics *metrics.PaymentGatewayMetrics
	Logger  *logger.Logger
}

// StripeGateway creates PaymentIntents with a bounded timeout and exactly one
// retry that reuses the caller's idempotency key.
type StripeGateway struct {
	api     intentAPI
	timeout time.Duration
	metrics *metrics.PaymentGatewayMetrics
	logg    *logger.Logger
}

func NewStripeGateway(params StripeGatewayParams) (*StripeGateway, error) {
	if params.Client == nil {
		return nil, errors.New("stripe client required")
	}
	return &StripeGateway{
		api:     stripeIntentAPI{},
		timeout: params.Client.Timeout(),
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error) {
	if input.IdempotencyKey == "" {
		return nil, errors.New("idempotency key required")
	}
	var pi *stripe.PaymentIntent
	err := g.call(ctx, opCreateIntent, func(callCtx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(input.AmountCents),
			Currency: stripe.String(input.Currency),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		if input.CustomerID != "" {
			params.Customer = stripe.String(input.CustomerID)
		}
		if input.PaymentMethodExternal != "" {
			params.PaymentMethod = stripe.String(input.PaymentMethodExternal)
		}
		if input.Description != "" {
			params.Description = stripe.String(input.Description)
		}
		for k, v := range input.Metadata {
			params.AddMetadata(k, v)
		}
		params.SetIdempotencyKey(input.IdempotencyKey)
		params.Context = callCtx

		created, err := g.api.New(params)
		if err != nil {
			return err
		}
		pi = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, externalRef, idempotencyKey string) (*Intent, error) {
	var pi *stripe.PaymentIntent
	err := g.call(ctx, opCancelIntent, func(callCtx context.Context) error {
		params := &stripe.PaymentIntentCancelParams{
			CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
		}
		if idempotencyKey != "" {
			params.SetIdempotencyKey(idempotencyKey)
		}
		params.Context = callCtx
		canceled, err := g.api.Cancel(externalRef, params)
		if err != nil {
			return err
		}
		pi = canceled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, externalRef string) (*Intent, error) {
	var pi *stripe.PaymentIntent
	err := g.call(ctx, opGetIntent, func(callCtx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Context = callCtx
		got, err := g.api.Get(externalRef, params)
		if err != nil {
			return err
		}
		pi = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toIntent(pi), nil
}

// call runs fn with a per-attempt deadline and retries once on transient failure.
func (g *StripeGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			g.metrics.Observe(op, outcomeOK, time.Since(start))
			return nil
		}
		if !isTransient(lastErr) || ctx.Err() != nil {
			break
		}
		if g.logg != nil {
			logCtx := g.logg.WithFields(ctx, map[string]any{"operation": op, "attempt": attempt})
			g.logg.Warn(logCtx, "payment gateway call failed, retrying with same idempotency key")
		}
	}

	if isTransient(lastErr) {
		g.metrics.Observe(op, outcomeUnknown, time.Since(start))
		return OutcomeUnknownError(op, lastErr)
	}
	g.metrics.Observe(op, outcomeDeclined, time.Since(start))
	return DeclinedError(op, declineMessage(lastErr), lastErr)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode == http.StatusConflict,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return true
		case stripeErr.Type == stripe.ErrorTypeAPI:
			return true
		}
		return false
	}
	return true
}

func declineMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return "payment request rejected"
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	if pi == nil {
		return nil
	}
	return &Intent{
		ExternalRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}
}
