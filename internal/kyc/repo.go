// Package kyc reads identity verification state owned by the KYC subsystem.
package kyc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// Record is the subset of user state needed to decide eligibility.
type Record struct {
	UserID    uuid.UUID
	Status    enums.KYCStatus
	ExpiresAt *time.Time
}

// Valid reports whether the record is verified and unexpired at now.
func (r Record) Valid(now time.Time) bool {
	if r.Status != enums.KYCStatusVerified {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}

// Repository exposes read-only access to KYC state.
type Repository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Record, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a KYC repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// FindByUserID returns nil when the user is unknown.
func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*Record, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("id", "kyc_status", "kyc_expires_at").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Record{UserID: user.ID, Status: user.KYCStatus, ExpiresAt: user.KYCExpiresAt}, nil
}
