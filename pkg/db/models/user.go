package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// User exposes the KYC columns owned by the identity subsystem.
type User struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Email         string          `gorm:"column:email;not null"`
	KYCStatus     enums.KYCStatus `gorm:"column:kyc_status;type:kyc_status;not null"`
	KYCVerifiedAt *time.Time      `gorm:"column:kyc_verified_at"`
	KYCExpiresAt  *time.Time      `gorm:"column:kyc_expires_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
