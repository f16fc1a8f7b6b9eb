package models

import "time"

// ProcessedWebhookEvent records a provider event id whose side effects were committed.
type ProcessedWebhookEvent struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	Provider    string    `gorm:"column:provider;not null"`
	EventType   string    `gorm:"column:event_type;not null"`
	ReceivedAt  time.Time `gorm:"column:received_at;not null"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null"`
}
