package investments

import (
	"time"

	"github.com/google/uuid"

	"github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/payloads"
	"github.com/ranggacaw/treevest-backend/pkg/pagination"
)

// InitiateInput starts a purchase. IdempotencyKey is the client-supplied
// Idempotency-Key; the ledger key is derived from it and the user.
type InitiateInput struct {
	UserID          uuid.UUID
	TreeID          uuid.UUID
	AmountCents     int64
	PaymentMethodID *uuid.UUID
	IdempotencyKey  string
}

// TopUpInput adds capital to an active investment.
type TopUpInput struct {
	UserID          uuid.UUID
	InvestmentID    uuid.UUID
	ExtraCents      int64
	PaymentMethodID *uuid.UUID
	IdempotencyKey  string
}

// RetryInput opens a fresh purchase payment for a pending investment whose
// previous attempt failed or was cancelled.
type RetryInput struct {
	UserID          uuid.UUID
	InvestmentID    uuid.UUID
	PaymentMethodID *uuid.UUID
	IdempotencyKey  string
}

type CancelInput struct {
	UserID       uuid.UUID
	InvestmentID uuid.UUID
	Reason       string
}

type MatureInput struct {
	AdminID      uuid.UUID
	InvestmentID uuid.UUID
}

// PaymentResult is returned by every operation that opens a processor intent.
// ClientSecret is empty when the payment no longer needs client action.
type PaymentResult struct {
	Investment   *models.Investment
	Transaction  *models.Transaction
	ClientSecret string
}

// Detail is one investment with its payment history.
type Detail struct {
	Investment   *models.Investment
	Transactions []models.Transaction
}

type ListInput struct {
	UserID uuid.UUID
	Status string
	pagination.Params
}

// ExpireResult summarizes one stale pending sweep.
type ExpireResult struct {
	Scanned int
	Expired int
	Skipped int
}

// InvestmentDTO is the API projection of an investment.
type InvestmentDTO struct {
	ID            uuid.UUID              `json:"id"`
	UserID        uuid.UUID              `json:"user_id"`
	TreeID        uuid.UUID              `json:"tree_id"`
	AmountCents   int64                  `json:"amount_cents"`
	Amount        string                 `json:"amount"`
	Currency      enums.Currency         `json:"currency"`
	Status        enums.InvestmentStatus `json:"status"`
	TransactionID *uuid.UUID             `json:"transaction_id,omitempty"`
	PurchasedAt   time.Time              `json:"purchased_at"`
	ConfirmedAt   *time.Time             `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time             `json:"cancelled_at,omitempty"`
	MaturedAt     *time.Time             `json:"matured_at,omitempty"`
	CancelReason  *string                `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type PaymentResultDTO struct {
	InvestmentID  uuid.UUID                    `json:"investment_id"`
	TransactionID *uuid.UUID                   `json:"transaction_id,omitempty"`
	ClientSecret  string                       `json:"client_secret,omitempty"`
	Investment    InvestmentDTO                `json:"investment"`
	Transaction   *transactions.TransactionDTO `json:"transaction,omitempty"`
}

type DetailDTO struct {
	InvestmentDTO
	Transactions []transactions.TransactionDTO `json:"transactions"`
}

func ToDTO(inv *models.Investment) InvestmentDTO {
	return InvestmentDTO{
		ID:            inv.ID,
		UserID:        inv.UserID,
		TreeID:        inv.TreeID,
		AmountCents:   inv.AmountCents,
		Amount:        payloads.NewMoney(inv.AmountCents, inv.Currency).Amount,
		Currency:      inv.Currency,
		Status:        inv.Status,
		TransactionID: inv.TransactionID,
		PurchasedAt:   inv.PurchasedAt,
		ConfirmedAt:   inv.ConfirmedAt,
		CancelledAt:   inv.CancelledAt,
		MaturedAt:     inv.MaturedAt,
		CancelReason:  inv.CancelReason,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
}

func (r *PaymentResult) DTO() PaymentResultDTO {
	out := PaymentResultDTO{
		InvestmentID: r.Investment.ID,
		ClientSecret: r.ClientSecret,
		Investment:   ToDTO(r.Investment),
		Transaction:  transactions.ToDTO(r.Transaction),
	}
	if r.Transaction != nil {
		id := r.Transaction.ID
		out.TransactionID = &id
	}
	return out
}

func (d *Detail) DTO() DetailDTO {
	out := DetailDTO{InvestmentDTO: ToDTO(d.Investment), Transactions: make([]transactions.TransactionDTO, 0, len(d.Transactions))}
	for i := range d.Transactions {
		out.Transactions = append(out.Transactions, *transactions.ToDTO(&d.Transactions[i]))
	}
	return out
}
