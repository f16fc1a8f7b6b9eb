package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// Tree carries the capacity facts owned by the farm subsystem. Read-only here.
type Tree struct {
	ID                 uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name               string           `gorm:"column:name;not null"`
	PriceCents         int64            `gorm:"column:price_cents;not null"`
	MinInvestmentCents int64            `gorm:"column:min_investment_cents;not null"`
	MaxInvestmentCents int64            `gorm:"column:max_investment_cents;not null"`
	Currency           enums.Currency   `gorm:"column:currency;type:text;not null"`
	Status             enums.TreeStatus `gorm:"column:status;type:tree_status;not null"`
	CreatedAt          time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
