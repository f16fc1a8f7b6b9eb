package router

import (
	"context"
	"fmt"
	"time"

	"github.com/ranggacaw/treevest-backend/internal/analytics/types"
	"github.com/ranggacaw/treevest-backend/internal/analytics/writer"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/payloads"
)

// rowHandler maps one decoded payload type onto an investment_events row and
// fills the envelope columns shared by every event.
type rowHandler[T any] struct {
	writer Writer
	logg   *logger.Logger
	build  func(*T) types.InvestmentEventRow
}

func (h *rowHandler[T]) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*T)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row := h.build(event)
	row.EventID = envelope.EventID
	row.EventType = string(envelope.EventType)
	row.EventVersion = int64(envelope.EventVersion)
	if row.OccurredAt.IsZero() {
		row.OccurredAt = envelope.OccurredAt
	}
	row.OccurredAt = row.OccurredAt.UTC()
	if row.UserID == nil {
		row.UserID = stringPtr(envelope.ActorUserID)
	}

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":    envelope.EventType,
		"investment_id": row.InvestmentID,
		"amount_cents":  row.AmountCents,
	})

	encoded, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		h.logg.Error(logCtx, "failed to encode analytics payload", err)
		return err
	}
	row.Payload = encoded

	if err := h.writer.InsertInvestmentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert investment event row", err)
		return err
	}
	h.logg.Debug(logCtx, "investment event row inserted")
	return nil
}

func investmentRow(ref payloads.InvestmentRef, money payloads.Money, status enums.InvestmentStatus, at time.Time) types.InvestmentEventRow {
	investmentID := ref.InvestmentID
	userID := ref.UserID
	treeID := ref.TreeID
	return types.InvestmentEventRow{
		OccurredAt:       at,
		InvestmentID:     uuidPtr(&investmentID),
		UserID:           uuidPtr(&userID),
		TreeID:           uuidPtr(&treeID),
		TreeName:         stringPtr(ref.TreeName),
		AmountCents:      money.AmountCents,
		Currency:         string(money.Currency),
		InvestmentStatus: stringPtr(string(status)),
	}
}

func purchasedRow(event *payloads.InvestmentPurchasedEvent) types.InvestmentEventRow {
	row := investmentRow(event.InvestmentRef, event.Money, enums.InvestmentStatusPendingPayment, event.PurchasedAt)
	row.TransactionID = uuidPtr(&event.TransactionID)
	row.TransactionType = stringPtr(string(enums.TransactionTypePurchase))
	return row
}

func confirmedRow(event *payloads.InvestmentConfirmedEvent) types.InvestmentEventRow {
	row := investmentRow(event.InvestmentRef, event.Money, enums.InvestmentStatusActive, event.ConfirmedAt)
	row.TransactionID = uuidPtr(&event.TransactionID)
	row.TransactionType = stringPtr(string(enums.TransactionTypePurchase))
	row.TotalCents = int64Ptr(event.AmountCents)
	return row
}

// toppedUpRow records the added amount; TotalCents carries the new principal.
func toppedUpRow(event *payloads.InvestmentToppedUpEvent) types.InvestmentEventRow {
	row := investmentRow(event.InvestmentRef, event.Added, enums.InvestmentStatusActive, time.Time{})
	row.TransactionID = uuidPtr(&event.TransactionID)
	row.TransactionType = stringPtr(string(enums.TransactionTypeTopUp))
	row.TotalCents = int64Ptr(event.Total.AmountCents)
	return row
}

func cancelledRow(event *payloads.InvestmentCancelledEvent) types.InvestmentEventRow {
	row := investmentRow(event.InvestmentRef, event.Money, enums.InvestmentStatusCancelled, event.CancelledAt)
	row.PreviousStatus = stringPtr(string(event.PreviousStatus))
	row.Reason = stringPtr(event.Reason)
	if event.RefundTransactionID != nil {
		row.TransactionID = uuidPtr(event.RefundTransactionID)
		row.TransactionType = stringPtr(string(enums.TransactionTypeRefund))
	}
	return row
}

func maturedRow(event *payloads.InvestmentMaturedEvent) types.InvestmentEventRow {
	row := investmentRow(event.InvestmentRef, event.Money, enums.InvestmentStatusMatured, event.MaturedAt)
	row.PreviousStatus = stringPtr(string(enums.InvestmentStatusActive))
	return row
}

func paymentFailedRow(event *payloads.PaymentFailedEvent) types.InvestmentEventRow {
	userID := event.UserID
	return types.InvestmentEventRow{
		OccurredAt:      event.FailedAt,
		InvestmentID:    uuidPtr(event.InvestmentID),
		TransactionID:   uuidPtr(&event.TransactionID),
		UserID:          uuidPtr(&userID),
		TreeID:          uuidPtr(event.TreeID),
		TreeName:        stringPtr(event.TreeName),
		TransactionType: stringPtr(string(event.TransactionType)),
		AmountCents:     event.AmountCents,
		Currency:        string(event.Currency),
		Reason:          stringPtr(event.FailureReason),
	}
}

func refundSettledRow(event *payloads.RefundSettledEvent) types.InvestmentEventRow {
	userID := event.UserID
	return types.InvestmentEventRow{
		OccurredAt:      event.SettledAt,
		InvestmentID:    uuidPtr(event.InvestmentID),
		TransactionID:   uuidPtr(&event.TransactionID),
		UserID:          uuidPtr(&userID),
		TransactionType: stringPtr(string(enums.TransactionTypeRefund)),
		AmountCents:     event.AmountCents,
		Currency:        string(event.Currency),
	}
}
