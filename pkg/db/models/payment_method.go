package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod mirrors a Stripe payment method saved by a user.
type PaymentMethod struct {
	ID                    uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID                uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	StripePaymentMethodID string    `gorm:"column:stripe_payment_method_id;not null;unique"`
	StripeCustomerID      *string   `gorm:"column:stripe_customer_id"`
	IsDefault             bool      `gorm:"column:is_default;not null"`
	CardBrand             *string   `gorm:"column:card_brand"`
	CardLast4             *string   `gorm:"column:card_last4"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
