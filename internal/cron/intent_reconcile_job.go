package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
)

const (
	defaultReconcileMinAge = 5 * time.Minute
	defaultReconcileMaxAge = 23 * time.Hour
	defaultReconcileBatch  = 50
)

type unattachedReconciler interface {
	ReconcileUnattached(ctx context.Context, minAge, maxAge time.Duration, limit int) (transactions.ReconcileResult, error)
}

type IntentReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler unattachedReconciler
	MinAge     time.Duration
	MaxAge     time.Duration
	BatchSize  int
}

// NewIntentReconcileJob re-drives pending transactions whose payment intent was
// never attached, typically because the processor call timed out after the row
// committed. MaxAge stays inside the processor's idempotency key lifetime.
func NewIntentReconcileJob(params IntentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("transaction reconciler required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultReconcileMaxAge
	}
	if maxAge <= minAge {
		return nil, fmt.Errorf("reconcile max age %s must exceed min age %s", maxAge, minAge)
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &intentReconcileJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		minAge:     minAge,
		maxAge:     maxAge,
		batch:      batch,
	}, nil
}

type intentReconcileJob struct {
	logg       *logger.Logger
	reconciler unattachedReconciler
	minAge     time.Duration
	maxAge     time.Duration
	batch      int
}

func (j *intentReconcileJob) Name() string { return "intent-reconcile" }

func (j *intentReconcileJob) Run(ctx context.Context) error {
	result, err := j.reconciler.ReconcileUnattached(ctx, j.minAge, j.maxAge, j.batch)
	if err != nil {
		return fmt.Errorf("intent reconcile: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":  result.Scanned,
		"attached": result.Attached,
		"failed":   result.Failed,
	})
	if result.Failed > 0 {
		j.logg.Warn(logCtx, "intent reconcile finished with failures")
		return nil
	}
	j.logg.Info(logCtx, "intent reconcile complete")
	return nil
}
