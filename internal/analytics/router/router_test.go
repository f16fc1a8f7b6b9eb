package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ranggacaw/treevest-backend/internal/analytics/types"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/payloads"
)

func TestRouterUnsupportedEvent(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	env := types.Envelope{
		EventType: enums.OutboxEventType("unsupported"),
		Payload:   []byte(`{"foo":"bar"}`),
	}
	err := router.Handle(context.Background(), env)
	require.ErrorIs(t, err, ErrUnsupportedEventType)
}

func TestRouterTreatsUnknownVersionAsUnsupported(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	env := envelopeFor(t, enums.EventInvestmentConfirmed, payloads.InvestmentConfirmedEvent{InvestmentRef: testRef()})
	env.EventVersion = 2

	require.ErrorIs(t, router.Handle(context.Background(), env), ErrUnsupportedEventType)
	assert.Empty(t, writer.inserted)
}

func TestRouterRejectsMalformedPayload(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	env := envelopeFor(t, enums.EventInvestmentConfirmed, payloads.InvestmentConfirmedEvent{})
	env.Payload = []byte(`{"amount_cents":"ten"}`)

	err := router.Handle(context.Background(), env)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedEventType)
	assert.Empty(t, writer.inserted)
}

func TestRouterRejectsEmptyPayload(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventInvestmentConfirmed})
	require.Error(t, err)
	assert.Empty(t, writer.inserted)
}

func TestRouterRoutesToOverride(t *testing.T) {
	handler := &stubHandler{}
	router, writer := newTestRouter(t, map[enums.OutboxEventType]Handler{
		enums.EventInvestmentPurchased: handler,
	})
	env := envelopeFor(t, enums.EventInvestmentPurchased, payloads.InvestmentPurchasedEvent{
		InvestmentRef: payloads.InvestmentRef{InvestmentID: uuid.New()},
	})
	require.NoError(t, router.Handle(context.Background(), env))
	assert.True(t, handler.called)
	assert.Empty(t, writer.inserted)
}

func TestRouterWritesConfirmedRow(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	ref := testRef()
	txnID := uuid.New()
	confirmedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	env := envelopeFor(t, enums.EventInvestmentConfirmed, payloads.InvestmentConfirmedEvent{
		InvestmentRef: ref,
		TransactionID: txnID,
		Money:         payloads.NewMoney(10000, enums.CurrencyIDR),
		ConfirmedAt:   confirmedAt,
	})

	require.NoError(t, router.Handle(context.Background(), env))
	require.Len(t, writer.inserted, 1)
	row := writer.inserted[0]
	assert.Equal(t, env.EventID, row.EventID)
	assert.Equal(t, "investment_confirmed", row.EventType)
	assert.Equal(t, int64(1), row.EventVersion)
	assert.Equal(t, confirmedAt, row.OccurredAt)
	assert.Equal(t, ref.InvestmentID.String(), *row.InvestmentID)
	assert.Equal(t, txnID.String(), *row.TransactionID)
	assert.Equal(t, "Durian Musang King #12", *row.TreeName)
	assert.Equal(t, int64(10000), row.AmountCents)
	assert.Equal(t, string(enums.InvestmentStatusActive), *row.InvestmentStatus)
	assert.True(t, row.Payload.Valid)
}

func TestRouterWritesTopUpTotals(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	occurred := time.Date(2026, 4, 2, 0, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	env := envelopeFor(t, enums.EventInvestmentToppedUp, payloads.InvestmentToppedUpEvent{
		InvestmentRef: testRef(),
		TransactionID: uuid.New(),
		Added:         payloads.NewMoney(2500, enums.CurrencyIDR),
		Total:         payloads.NewMoney(12500, enums.CurrencyIDR),
	})
	env.OccurredAt = occurred

	require.NoError(t, router.Handle(context.Background(), env))
	require.Len(t, writer.inserted, 1)
	row := writer.inserted[0]
	assert.Equal(t, int64(2500), row.AmountCents)
	require.NotNil(t, row.TotalCents)
	assert.Equal(t, int64(12500), *row.TotalCents)
	assert.Equal(t, string(enums.TransactionTypeTopUp), *row.TransactionType)
	assert.Equal(t, occurred.UTC(), row.OccurredAt)
}

func TestRouterWritesCancelledRowWithRefund(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	refundID := uuid.New()
	env := envelopeFor(t, enums.EventInvestmentCancelled, payloads.InvestmentCancelledEvent{
		InvestmentRef:       testRef(),
		Money:               payloads.NewMoney(5000, enums.CurrencyIDR),
		PreviousStatus:      enums.InvestmentStatusActive,
		Reason:              "changed my mind",
		RefundTransactionID: &refundID,
		CancelledAt:         time.Now(),
	})

	require.NoError(t, router.Handle(context.Background(), env))
	row := writer.inserted[0]
	assert.Equal(t, "active", *row.PreviousStatus)
	assert.Equal(t, "changed my mind", *row.Reason)
	assert.Equal(t, refundID.String(), *row.TransactionID)
	assert.Equal(t, string(enums.TransactionTypeRefund), *row.TransactionType)
}

func TestRouterPaymentFailedUsesEnvelopeTime(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	env := envelopeFor(t, enums.EventPaymentFailed, payloads.PaymentFailedEvent{
		TransactionID:   uuid.New(),
		UserID:          uuid.New(),
		TransactionType: enums.TransactionTypePurchase,
		Money:           payloads.NewMoney(7500, enums.CurrencyIDR),
		FailureReason:   "card_declined",
	})

	require.NoError(t, router.Handle(context.Background(), env))
	row := writer.inserted[0]
	assert.Nil(t, row.InvestmentID)
	assert.Equal(t, "card_declined", *row.Reason)
	assert.Equal(t, env.OccurredAt, row.OccurredAt)
}

func TestRouterPropagatesWriterError(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	writer.err = errors.New("bigquery unavailable")
	env := envelopeFor(t, enums.EventInvestmentMatured, payloads.InvestmentMaturedEvent{
		InvestmentRef: testRef(),
		Money:         payloads.NewMoney(10000, enums.CurrencyIDR),
		MaturedAt:     time.Now(),
	})
	require.ErrorContains(t, router.Handle(context.Background(), env), "bigquery unavailable")
}

func newTestRouter(t *testing.T, overrides map[enums.OutboxEventType]Handler) (*Router, *fakeWriter) {
	t.Helper()
	writer := &fakeWriter{}
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard}), overrides)
	require.NoError(t, err)
	return router, writer
}

func testRef() payloads.InvestmentRef {
	return payloads.InvestmentRef{
		InvestmentID: uuid.New(),
		UserID:       uuid.New(),
		TreeID:       uuid.New(),
		TreeName:     "Durian Musang King #12",
	}
}

func envelopeFor(t *testing.T, eventType enums.OutboxEventType, payload any) types.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return types.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		AggregateType: enums.AggregateInvestment,
		AggregateID:   uuid.NewString(),
		ActorUserID:   uuid.NewString(),
		OccurredAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Payload:       data,
	}
}

type stubHandler struct {
	called bool
}

func (s *stubHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	s.called = true
	return nil
}
