package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// WebhookInboxItem is a verified provider delivery waiting for the worker pool.
type WebhookInboxItem struct {
	ID           uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Provider     string                   `gorm:"column:provider;not null"`
	EventID      string                   `gorm:"column:event_id;not null;uniqueIndex"`
	EventType    string                   `gorm:"column:event_type;not null"`
	Payload      datatypes.JSON           `gorm:"column:payload;type:jsonb;not null"`
	Status       enums.WebhookInboxStatus `gorm:"column:status;type:webhook_inbox_status;not null"`
	AttemptCount int                      `gorm:"column:attempt_count;not null"`
	AvailableAt  time.Time                `gorm:"column:available_at;not null"`
	LastError    *string                  `gorm:"column:last_error"`
	ReceivedAt   time.Time                `gorm:"column:received_at;not null"`
	CreatedAt    time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *WebhookInboxItem) TableName() string {
	return "webhook_inbox"
}

func (w *WebhookInboxItem) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
