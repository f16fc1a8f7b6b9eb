package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/ranggacaw/treevest-backend/pkg/logger"
)

const defaultWebhookRetention = 90 * 24 * time.Hour

type processedEventPruner interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type inboxPruner interface {
	DeleteDoneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type WebhookRetentionJobParams struct {
	Logger    *logger.Logger
	Events    processedEventPruner
	Inbox     inboxPruner
	Retention time.Duration
	Now       func() time.Time
}

// NewWebhookRetentionJob prunes the processed-event dedup table and finished
// inbox rows. Rows younger than the retention window keep deduplicating
// redeliveries from the processor.
func NewWebhookRetentionJob(params WebhookRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("processed event repository required")
	}
	if params.Inbox == nil {
		return nil, fmt.Errorf("inbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultWebhookRetention
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &webhookRetentionJob{
		logg:      params.Logger,
		events:    params.Events,
		inbox:     params.Inbox,
		retention: retention,
		now:       now,
	}, nil
}

type webhookRetentionJob struct {
	logg      *logger.Logger
	events    processedEventPruner
	inbox     inboxPruner
	retention time.Duration
	now       func() time.Time
}

func (j *webhookRetentionJob) Name() string { return "webhook-retention" }

// Run attempts both deletions even when one fails.
func (j *webhookRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)

	var errs error
	events, err := j.events.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("processed events: %w", err))
	}
	inbox, err := j.inbox.DeleteDoneBefore(ctx, cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("inbox: %w", err))
	}
	if errs != nil {
		return fmt.Errorf("webhook retention: %w", errs)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"events_deleted": events,
		"inbox_deleted":  inbox,
	})
	j.logg.Info(logCtx, "webhook retention cleanup complete")
	return nil
}
