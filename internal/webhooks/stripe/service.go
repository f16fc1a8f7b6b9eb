package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/metrics"
)

// Provider labels rows and metrics written by this package.
const Provider = "stripe"

const defaultFailureReason = "payment_failed"

var outcomes = map[stripe.EventType]transactions.Outcome{
	stripe.EventTypePaymentIntentProcessing:    transactions.OutcomeProcessing,
	stripe.EventTypePaymentIntentSucceeded:     transactions.OutcomeSucceeded,
	stripe.EventTypePaymentIntentPaymentFailed: transactions.OutcomeFailed,
	stripe.EventTypePaymentIntentCanceled:      transactions.OutcomeCanceled,
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type processorLedger interface {
	ApplyProcessorEvent(ctx context.Context, tx *gorm.DB, event transactions.ProcessorEvent) (*transactions.ApplyResult, error)
}

type ServiceParams struct {
	TransactionRunner txRunner
	Events            EventRepository
	Inbox             InboxRepository
	Ledger            processorLedger
	Recent            *RecentEvents
	Metrics           *metrics.WebhookMetrics
	Logger            *logger.Logger
	Now               func() time.Time
}

// Service ingests verified Stripe events. Each event is applied at most once:
// the processed-event insert and the ledger mutation commit together.
type Service struct {
	txRunner txRunner
	events   EventRepository
	inbox    InboxRepository
	ledger   processorLedger
	recent   *RecentEvents
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processed event repo required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction ledger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		txRunner: params.TransactionRunner,
		events:   params.Events,
		inbox:    params.Inbox,
		ledger:   params.Ledger,
		recent:   params.Recent,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      func() time.Time { return now().UTC() },
	}, nil
}

// ParseEvent verifies the Stripe-Signature header against the signing secret
// and decodes the event envelope.
func ParseEvent(payload []byte, signature, secret string) (*stripe.Event, error) {
	if signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing")
	}
	if err := webhook.ValidatePayload(payload, signature, secret); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "invalid stripe signature")
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event")
	}
	if event.ID == "" || event.Type == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id and type required")
	}
	return &event, nil
}

// Enqueue stores a verified delivery in the inbox for the worker pool. It
// reports false when the event id is already queued, in flight or done. A
// redelivery of a failed event is queued again.
func (s *Service) Enqueue(ctx context.Context, event *stripe.Event, payload []byte) (bool, error) {
	if s.inbox == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "webhook inbox not configured")
	}
	if event == nil || event.ID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event required")
	}
	now := s.now()
	item := &models.WebhookInboxItem{
		Provider:    Provider,
		EventID:     event.ID,
		EventType:   string(event.Type),
		Payload:     datatypes.JSON(payload),
		AvailableAt: now,
		ReceivedAt:  now,
	}
	inserted, err := s.inbox.Enqueue(ctx, item)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue webhook")
	}
	if inserted {
		s.metrics.Inc(Provider, string(event.Type), metrics.WebhookResultQueued)
	} else {
		s.metrics.Inc(Provider, string(event.Type), metrics.WebhookResultDuplicate)
	}
	return inserted, nil
}

// HandleEvent applies one event and returns the metrics result label. Errors
// roll the transaction back, so the event stays unrecorded and a redelivery
// retries it.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (string, error) {
	if event == nil || event.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "stripe event required")
	}
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
	}

	if s.recent != nil {
		seen, err := s.recent.Seen(ctx, event.ID)
		if err != nil && s.logg != nil {
			s.logg.Warn(logCtx, "recent event cache unavailable: "+err.Error())
		}
		if seen {
			s.metrics.Inc(Provider, string(event.Type), metrics.WebhookResultDuplicate)
			return metrics.WebhookResultDuplicate, nil
		}
	}

	var result string
	receivedAt := s.now()
	if event.Created > 0 {
		receivedAt = time.Unix(event.Created, 0).UTC()
	}
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		inserted, err := s.events.WithTx(tx).Insert(ctx, &models.ProcessedWebhookEvent{
			EventID:     event.ID,
			Provider:    Provider,
			EventType:   string(event.Type),
			ReceivedAt:  receivedAt,
			ProcessedAt: s.now(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
		}
		if !inserted {
			result = metrics.WebhookResultDuplicate
			return nil
		}
		result, err = s.dispatch(ctx, tx, event)
		return err
	})
	if err != nil {
		s.metrics.Inc(Provider, string(event.Type), failureResult(err))
		return "", err
	}

	if s.recent != nil {
		if err := s.recent.Mark(ctx, event.ID); err != nil && s.logg != nil {
			s.logg.Warn(logCtx, "recent event cache write failed: "+err.Error())
		}
	}
	s.metrics.Inc(Provider, string(event.Type), result)
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(logCtx, "result", result), "stripe webhook handled")
	}
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event *stripe.Event) (string, error) {
	outcome, ok := outcomes[event.Type]
	if !ok {
		return metrics.WebhookResultIgnored, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent payload missing")
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	if intent.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	processorEvent := transactions.ProcessorEvent{
		EventID:     event.ID,
		IntentRef:   intent.ID,
		Outcome:     outcome,
		RawMetadata: json.RawMessage(event.Data.Raw),
	}
	if raw := intent.Metadata[transactions.MetaTransactionID]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			processorEvent.TransactionID = &id
		}
	}
	if outcome == transactions.OutcomeFailed {
		processorEvent.FailureReason = failureReason(&intent)
	}

	if _, err := s.ledger.ApplyProcessorEvent(ctx, tx, processorEvent); err != nil {
		if errors.Is(err, transactions.ErrUnknownIntent) {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "intent_ref", intent.ID), "webhook references unknown payment intent")
			}
			return metrics.WebhookResultUnknown, nil
		}
		return "", err
	}
	return metrics.WebhookResultProcessed, nil
}

func failureReason(intent *stripe.PaymentIntent) string {
	if intent == nil || intent.LastPaymentError == nil {
		return defaultFailureReason
	}
	lastErr := intent.LastPaymentError
	switch {
	case lastErr.DeclineCode != "":
		return string(lastErr.DeclineCode)
	case lastErr.Code != "":
		return string(lastErr.Code)
	case lastErr.Msg != "":
		return lastErr.Msg
	default:
		return defaultFailureReason
	}
}

func failureResult(err error) string {
	if pkgerrors.IsRetryable(err) {
		return metrics.WebhookResultRetry
	}
	return metrics.WebhookResultFailed
}
