package transactions

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// Metadata keys stamped on transactions and processor intents.
const (
	MetaTransactionID = "transaction_id"
	MetaInvestmentID  = "investment_id"
	MetaTreeID        = "tree_id"
	MetaTreeName      = "tree_name"
	MetaType          = "type"
	MetaCancelReason  = "cancel_reason"
	MetaRetryOf       = "retry_of"
)

// ReserveInput describes a transaction to persist before any processor call.
// IdempotencyKey is generated when empty.
type ReserveInput struct {
	UserID          uuid.UUID
	InvestmentID    *uuid.UUID
	Type            enums.TransactionType
	AmountCents     int64
	Currency        enums.Currency
	PaymentMethodID *uuid.UUID
	IdempotencyKey  string
	Metadata        map[string]any
}

// OpenResult carries the processor handle the client needs to complete payment.
type OpenResult struct {
	Transaction  *models.Transaction
	ClientSecret string
}

// Outcome is the normalized processor result carried by a webhook.
type Outcome string

const (
	OutcomeProcessing Outcome = "processing"
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeCanceled   Outcome = "canceled"
)

// ProcessorEvent is one processor notification about an intent.
type ProcessorEvent struct {
	EventID       string
	IntentRef     string
	TransactionID *uuid.UUID
	Outcome       Outcome
	FailureReason string
	RawMetadata   json.RawMessage
}

// ApplyResult reports what ApplyProcessorEvent did.
type ApplyResult struct {
	Transaction *models.Transaction
	Changed     bool
}

// SettleRefundInput is the admin confirmation that refunded funds left the platform.
type SettleRefundInput struct {
	TransactionID uuid.UUID
	AdminID       uuid.UUID
	ExternalRef   string
}

// ReconcileResult summarizes one reconciliation sweep.
type ReconcileResult struct {
	Scanned  int
	Attached int
	Failed   int
}

// TransactionDTO is the API projection of a transaction.
type TransactionDTO struct {
	ID            uuid.UUID               `json:"id"`
	InvestmentID  *uuid.UUID              `json:"investment_id,omitempty"`
	Type          enums.TransactionType   `json:"type"`
	Status        enums.TransactionStatus `json:"status"`
	AmountCents   int64                   `json:"amount_cents"`
	Currency      enums.Currency          `json:"currency"`
	ExternalRef   *string                 `json:"external_ref,omitempty"`
	FailureReason *string                 `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	FailedAt      *time.Time              `json:"failed_at,omitempty"`
	CancelledAt   *time.Time              `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// ToDTO projects a transaction for API responses.
func ToDTO(txn *models.Transaction) *TransactionDTO {
	if txn == nil {
		return nil
	}
	return &TransactionDTO{
		ID:            txn.ID,
		InvestmentID:  txn.InvestmentID,
		Type:          txn.Type,
		Status:        txn.Status,
		AmountCents:   txn.AmountCents,
		Currency:      txn.Currency,
		ExternalRef:   txn.ExternalRef,
		FailureReason: txn.FailureReason,
		CompletedAt:   txn.CompletedAt,
		FailedAt:      txn.FailedAt,
		CancelledAt:   txn.CancelledAt,
		CreatedAt:     txn.CreatedAt,
	}
}
