package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// Investment is one user's stake in one tree.
type Investment struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	TreeID        uuid.UUID              `gorm:"column:tree_id;type:uuid;not null;index"`
	AmountCents   int64                  `gorm:"column:amount_cents;not null"`
	Currency      enums.Currency         `gorm:"column:currency;type:text;not null"`
	Status        enums.InvestmentStatus `gorm:"column:status;type:investment_status;not null"`
	TransactionID *uuid.UUID             `gorm:"column:transaction_id;type:uuid;uniqueIndex"`
	PurchasedAt   time.Time              `gorm:"column:purchased_at;not null"`
	ConfirmedAt   *time.Time             `gorm:"column:confirmed_at"`
	CancelledAt   *time.Time             `gorm:"column:cancelled_at"`
	MaturedAt     *time.Time             `gorm:"column:matured_at"`
	CancelReason  *string                `gorm:"column:cancel_reason"`
	Metadata      datatypes.JSONMap      `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt     gorm.DeletedAt         `gorm:"column:deleted_at;index"`
}

func (i *Investment) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
