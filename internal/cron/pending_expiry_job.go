package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/ranggacaw/treevest-backend/internal/investments"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
)

const defaultExpiryBatch = 100

type staleExpirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration, limit int) (investments.ExpireResult, error)
}

type PendingExpiryJobParams struct {
	Logger    *logger.Logger
	Expirer   staleExpirer
	TTL       time.Duration
	BatchSize int
}

// NewPendingExpiryJob cancels investments that stayed in pending_payment past
// TTL. A zero TTL turns the job into a no-op.
func NewPendingExpiryJob(params PendingExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("investment expirer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &pendingExpiryJob{
		logg:    params.Logger,
		expirer: params.Expirer,
		ttl:     params.TTL,
		batch:   batch,
	}, nil
}

type pendingExpiryJob struct {
	logg    *logger.Logger
	expirer staleExpirer
	ttl     time.Duration
	batch   int
}

func (j *pendingExpiryJob) Name() string { return "pending-investment-expiry" }

func (j *pendingExpiryJob) Run(ctx context.Context) error {
	if j.ttl <= 0 {
		j.logg.Debug(ctx, "pending expiry disabled")
		return nil
	}
	result, err := j.expirer.ExpireStale(ctx, j.ttl, j.batch)
	if err != nil {
		return fmt.Errorf("pending expiry: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"ttl":     j.ttl.String(),
		"scanned": result.Scanned,
		"expired": result.Expired,
		"skipped": result.Skipped,
	})
	j.logg.Info(logCtx, "pending investment expiry complete")
	return nil
}
