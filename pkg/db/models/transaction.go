package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// Transaction is one attempted money movement correlated with a processor intent.
// AmountCents is immutable after creation.
type Transaction struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID           uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	InvestmentID     *uuid.UUID              `gorm:"column:investment_id;type:uuid;index"`
	Type             enums.TransactionType   `gorm:"column:type;type:transaction_type;not null"`
	Status           enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null"`
	AmountCents      int64                   `gorm:"column:amount_cents;not null"`
	Currency         enums.Currency          `gorm:"column:currency;type:text;not null"`
	IdempotencyKey   string                  `gorm:"column:idempotency_key;not null;uniqueIndex"`
	ExternalRef      *string                 `gorm:"column:external_ref;uniqueIndex"`
	PaymentMethodID  *uuid.UUID              `gorm:"column:payment_method_id;type:uuid"`
	Metadata         datatypes.JSONMap       `gorm:"column:metadata;type:jsonb"`
	ProviderMetadata datatypes.JSON          `gorm:"column:provider_metadata;type:jsonb"`
	FailureReason    *string                 `gorm:"column:failure_reason"`
	CompletedAt      *time.Time              `gorm:"column:completed_at"`
	FailedAt         *time.Time              `gorm:"column:failed_at"`
	CancelledAt      *time.Time              `gorm:"column:cancelled_at"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
