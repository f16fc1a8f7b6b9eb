package stripewebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// EventRepository records provider event ids whose side effects were committed.
type EventRepository interface {
	WithTx(tx *gorm.DB) EventRepository
	// Insert reports false when the event id was already recorded.
	Insert(ctx context.Context, event *models.ProcessedWebhookEvent) (bool, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) WithTx(tx *gorm.DB) EventRepository {
	if tx == nil {
		return r
	}
	return &eventRepository{db: tx}
}

func (r *eventRepository) Insert(ctx context.Context, event *models.ProcessedWebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *eventRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&models.ProcessedWebhookEvent{})
	return res.RowsAffected, res.Error
}

// InboxRepository is the durable queue between the HTTP endpoint and the worker pool.
type InboxRepository interface {
	// Enqueue reports false when the event id is already queued or handled.
	Enqueue(ctx context.Context, item *models.WebhookInboxItem) (bool, error)
	// ClaimBatch moves due queued rows, and processing rows abandoned before
	// staleBefore, to processing and bumps their attempt count.
	ClaimBatch(ctx context.Context, limit int, now, staleBefore time.Time) ([]models.WebhookInboxItem, error)
	MarkDone(ctx context.Context, item *models.WebhookInboxItem) error
	MarkRetry(ctx context.Context, item *models.WebhookInboxItem, availableAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, item *models.WebhookInboxItem, lastErr string) error
	DeleteDoneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, status enums.WebhookInboxStatus) (int64, error)
}

type inboxRepository struct {
	db *gorm.DB
}

func NewInboxRepository(db *gorm.DB) InboxRepository {
	return &inboxRepository{db: db}
}

// Enqueue inserts item, or re-queues an existing row for the same event that
// the worker gave up on. Queued, processing and done rows are left alone.
func (r *inboxRepository) Enqueue(ctx context.Context, item *models.WebhookInboxItem) (bool, error) {
	if item.Status == "" {
		item.Status = enums.WebhookInboxQueued
	}
	requeue := append(clause.Assignments(map[string]any{
		"status":        enums.WebhookInboxQueued,
		"attempt_count": 0,
		"last_error":    nil,
	}), clause.AssignmentColumns([]string{"payload", "available_at", "updated_at"})...)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoUpdates: requeue,
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: item.TableName(), Name: "status"}, Value: enums.WebhookInboxFailed},
			}},
		}).
		Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *inboxRepository) ClaimBatch(ctx context.Context, limit int, now, staleBefore time.Time) ([]models.WebhookInboxItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []models.WebhookInboxItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.WebhookInboxItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND available_at <= ?) OR (status = ? AND updated_at < ?)",
				enums.WebhookInboxQueued, now, enums.WebhookInboxProcessing, staleBefore).
			Order("available_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if err := tx.Model(&models.WebhookInboxItem{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":        enums.WebhookInboxProcessing,
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].Status = enums.WebhookInboxProcessing
			rows[i].AttemptCount++
			rows[i].UpdatedAt = now
		}
		claimed = rows
		return nil
	})
	return claimed, err
}

func (r *inboxRepository) MarkDone(ctx context.Context, item *models.WebhookInboxItem) error {
	return r.db.WithContext(ctx).Model(&models.WebhookInboxItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":     enums.WebhookInboxDone,
			"last_error": nil,
		}).Error
}

func (r *inboxRepository) MarkRetry(ctx context.Context, item *models.WebhookInboxItem, availableAt time.Time, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookInboxItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":       enums.WebhookInboxQueued,
			"available_at": availableAt,
			"last_error":   lastErr,
		}).Error
}

func (r *inboxRepository) MarkFailed(ctx context.Context, item *models.WebhookInboxItem, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookInboxItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":     enums.WebhookInboxFailed,
			"last_error": lastErr,
		}).Error
}

func (r *inboxRepository) DeleteDoneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.WebhookInboxDone, cutoff).
		Delete(&models.WebhookInboxItem{})
	return res.RowsAffected, res.Error
}

func (r *inboxRepository) CountByStatus(ctx context.Context, status enums.WebhookInboxStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WebhookInboxItem{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
