package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
)

const (
	defaultWorkers      = 4
	defaultBatchSize    = 10
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 12
	defaultStaleAfter   = 5 * time.Minute
	retryBase           = time.Second
	maxRetryDelay       = 10 * time.Minute
	maxPollBackoff      = 30 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))
var jitterMu sync.Mutex

type eventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (string, error)
}

type WorkerParams struct {
	Inbox        InboxRepository
	Handler      eventHandler
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	// StaleAfter is how long a claimed row may stay processing before another
	// worker reclaims it.
	StaleAfter time.Duration
	Logger     *logger.Logger
	Now        func() time.Time
}

// Worker drains the webhook inbox with a fixed pool of goroutines.
type Worker struct {
	inbox        InboxRepository
	handler      eventHandler
	workers      int
	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
	staleAfter   time.Duration
	logg         *logger.Logger
	now          func() time.Time
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Inbox == nil {
		return nil, errors.New("webhook inbox is required")
	}
	if params.Handler == nil {
		return nil, errors.New("webhook handler is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	w := &Worker{
		inbox:        params.Inbox,
		handler:      params.Handler,
		workers:      params.Workers,
		batchSize:    params.BatchSize,
		pollInterval: params.PollInterval,
		maxAttempts:  params.MaxAttempts,
		staleAfter:   params.StaleAfter,
		logg:         params.Logger,
		now:          params.Now,
	}
	if w.workers <= 0 {
		w.workers = defaultWorkers
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.staleAfter <= 0 {
		w.staleAfter = defaultStaleAfter
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// Run claims batches until ctx is cancelled. Rows claimed when ctx ends stay
// processing and are reclaimed once stale.
func (w *Worker) Run(ctx context.Context) error {
	jobs := make(chan models.WebhookInboxItem)
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				w.process(ctx, item)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	w.logg.Info(ctx, "webhook inbox worker started")
	backoff := w.pollInterval
	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "webhook inbox worker context canceled")
			return ctx.Err()
		default:
		}

		items, err := w.claim(ctx)
		if err != nil {
			w.logg.Error(ctx, "webhook inbox claim failed", err)
			backoff = nextBackoff(backoff, w.pollInterval, maxPollBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = w.pollInterval

		for _, item := range items {
			select {
			case jobs <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if len(items) == w.batchSize {
			continue
		}
		if err := sleep(ctx, withJitter(w.pollInterval)); err != nil {
			return err
		}
	}
}

// ProcessAvailable handles every due row on the calling goroutine and returns
// how many were attempted.
func (w *Worker) ProcessAvailable(ctx context.Context) (int, error) {
	total := 0
	for {
		items, err := w.claim(ctx)
		if err != nil {
			return total, err
		}
		for _, item := range items {
			w.process(ctx, item)
		}
		total += len(items)
		if len(items) < w.batchSize {
			return total, nil
		}
	}
}

func (w *Worker) claim(ctx context.Context) ([]models.WebhookInboxItem, error) {
	now := w.now().UTC()
	return w.inbox.ClaimBatch(ctx, w.batchSize, now, now.Add(-w.staleAfter))
}

func (w *Worker) process(ctx context.Context, item models.WebhookInboxItem) {
	logCtx := w.logg.WithFields(ctx, map[string]any{
		"event_id":      item.EventID,
		"event_type":    item.EventType,
		"attempt_count": item.AttemptCount,
	})

	var event stripe.Event
	if err := json.Unmarshal(item.Payload, &event); err != nil {
		w.fail(logCtx, &item, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode inbox payload"))
		return
	}

	_, err := w.handler.HandleEvent(ctx, &event)
	if err == nil {
		if markErr := w.inbox.MarkDone(ctx, &item); markErr != nil {
			w.logg.Error(logCtx, "mark webhook inbox row done", markErr)
		}
		return
	}
	if !pkgerrors.IsRetryable(err) || item.AttemptCount >= w.maxAttempts {
		w.fail(logCtx, &item, err)
		return
	}

	availableAt := w.now().UTC().Add(retryDelay(item.AttemptCount))
	if markErr := w.inbox.MarkRetry(ctx, &item, availableAt, err.Error()); markErr != nil {
		w.logg.Error(logCtx, "schedule webhook retry", markErr)
		return
	}
	w.logg.Warn(w.logg.WithField(logCtx, "available_at", availableAt), "webhook processing failed, retry scheduled: "+err.Error())
}

func (w *Worker) fail(ctx context.Context, item *models.WebhookInboxItem, cause error) {
	w.logg.Error(ctx, "webhook processing failed permanently", cause)
	if err := w.inbox.MarkFailed(ctx, item, cause.Error()); err != nil {
		w.logg.Error(ctx, "mark webhook inbox row failed", err)
	}
}

// retryDelay doubles from retryBase per attempt, capped at maxRetryDelay.
func retryDelay(attempt int) time.Duration {
	delay := retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitterMu.Lock()
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	jitterMu.Unlock()
	return d + jitter
}
