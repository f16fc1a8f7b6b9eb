// Package paymentmethods reads saved cards owned by the billing profile subsystem.
package paymentmethods

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
)

// Repository exposes read-only access to saved payment methods.
type Repository interface {
	FindForUser(ctx context.Context, userID, paymentMethodID uuid.UUID) (*models.PaymentMethod, error)
	FindDefault(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment method repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// FindForUser returns nil when the method does not exist or belongs to another user.
func (r *repository) FindForUser(ctx context.Context, userID, paymentMethodID uuid.UUID) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", paymentMethodID, userID).
		First(&pm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pm, nil
}

// FindDefault returns the user's default method, or nil when none is set.
func (r *repository) FindDefault(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_default = ?", userID, true).
		Order("created_at DESC").
		First(&pm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pm, nil
}
