package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// Money pairs minor units with a display string such as "100.00".
type Money struct {
	AmountCents int64          `json:"amount_cents"`
	Amount      string         `json:"amount"`
	Currency    enums.Currency `json:"currency"`
}

// NewMoney renders cents as a two-decimal display amount.
func NewMoney(cents int64, currency enums.Currency) Money {
	return Money{
		AmountCents: cents,
		Amount:      decimal.New(cents, -2).StringFixed(2),
		Currency:    currency,
	}
}

// InvestmentRef is the common projection carried by every investment event.
type InvestmentRef struct {
	InvestmentID uuid.UUID `json:"investment_id"`
	UserID       uuid.UUID `json:"user_id"`
	TreeID       uuid.UUID `json:"tree_id"`
	TreeName     string    `json:"tree_name"`
}

// InvestmentPurchasedEvent is emitted when a pending investment and its purchase transaction are created.
type InvestmentPurchasedEvent struct {
	InvestmentRef
	TransactionID uuid.UUID `json:"transaction_id"`
	Money
	PurchasedAt time.Time `json:"purchased_at"`
}

// InvestmentConfirmedEvent is emitted when the purchase payment completes.
type InvestmentConfirmedEvent struct {
	InvestmentRef
	TransactionID uuid.UUID `json:"transaction_id"`
	Money
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// InvestmentToppedUpEvent reports the added amount and the new total.
type InvestmentToppedUpEvent struct {
	InvestmentRef
	TransactionID uuid.UUID `json:"transaction_id"`
	Added         Money     `json:"added"`
	Total         Money     `json:"total"`
}

// InvestmentCancelledEvent is emitted when an investment leaves pending_payment or active.
type InvestmentCancelledEvent struct {
	InvestmentRef
	Money
	PreviousStatus      enums.InvestmentStatus `json:"previous_status"`
	Reason              string                 `json:"reason,omitempty"`
	RefundTransactionID *uuid.UUID             `json:"refund_transaction_id,omitempty"`
	CancelledAt         time.Time              `json:"cancelled_at"`
}

// InvestmentMaturedEvent is emitted when an admin closes an active investment.
type InvestmentMaturedEvent struct {
	InvestmentRef
	Money
	MaturedAt time.Time `json:"matured_at"`
}

// PaymentFailedEvent is emitted when the processor reports a terminal failure.
type PaymentFailedEvent struct {
	TransactionID   uuid.UUID             `json:"transaction_id"`
	InvestmentID    *uuid.UUID            `json:"investment_id,omitempty"`
	UserID          uuid.UUID             `json:"user_id"`
	TreeID          *uuid.UUID            `json:"tree_id,omitempty"`
	TreeName        string                `json:"tree_name,omitempty"`
	TransactionType enums.TransactionType `json:"transaction_type"`
	Money
	FailureReason string    `json:"failure_reason"`
	FailedAt      time.Time `json:"failed_at"`
}

// RefundSettledEvent is emitted when an admin settles a refund transaction.
type RefundSettledEvent struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	InvestmentID  *uuid.UUID `json:"investment_id,omitempty"`
	UserID        uuid.UUID  `json:"user_id"`
	Money
	SettledAt time.Time `json:"settled_at"`
}
