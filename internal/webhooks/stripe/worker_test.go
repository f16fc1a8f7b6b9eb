package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
)

func newTestWorker(t *testing.T, f *fixture, maxAttempts int) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerParams{
		Inbox:       f.inbox,
		Handler:     f.svc,
		Workers:     2,
		BatchSize:   2,
		MaxAttempts: maxAttempts,
		Logger:      f.logg,
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) enqueue(t *testing.T, pi string) *stripe.Event {
	t.Helper()
	event := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{ID: pi})
	payload, _ := signedPayload(t, event)
	inserted, err := f.svc.Enqueue(context.Background(), event, payload)
	require.NoError(t, err)
	require.True(t, inserted)
	return event
}

func (f *fixture) inboxRow(t *testing.T, eventID string) models.WebhookInboxItem {
	t.Helper()
	var row models.WebhookInboxItem
	require.NoError(t, f.conn.Where("event_id = ?", eventID).First(&row).Error)
	return row
}

func TestWorkerDrainsInbox(t *testing.T) {
	f := newFixture(t, nil)
	events := []*stripe.Event{f.enqueue(t, "pi_a"), f.enqueue(t, "pi_b"), f.enqueue(t, "pi_c")}
	w := newTestWorker(t, f, 3)

	processed, err := w.ProcessAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	for _, event := range events {
		row := f.inboxRow(t, event.ID)
		assert.Equal(t, enums.WebhookInboxDone, row.Status)
		assert.Equal(t, 1, row.AttemptCount)
	}
	assert.Len(t, f.ledger.calls(), 3)
	assert.Equal(t, int64(3), f.processedCount(t))

	processed, err = w.ProcessAvailable(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestWorkerSchedulesRetryForTransientErrors(t *testing.T) {
	f := newFixture(t, nil)
	event := f.enqueue(t, "pi_transient")
	f.ledger.failNext(pkgerrors.New(pkgerrors.CodeDependency, "database unavailable"))
	w := newTestWorker(t, f, 3)

	_, err := w.ProcessAvailable(context.Background())
	require.NoError(t, err)

	row := f.inboxRow(t, event.ID)
	assert.Equal(t, enums.WebhookInboxQueued, row.Status)
	assert.True(t, row.AvailableAt.After(time.Now().UTC()))
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "database unavailable")
	assert.Equal(t, int64(0), f.processedCount(t))

	// Not yet due.
	processed, err := w.ProcessAvailable(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)

	require.NoError(t, f.conn.Model(&models.WebhookInboxItem{}).
		Where("event_id = ?", event.ID).
		Update("available_at", time.Now().UTC().Add(-time.Second)).Error)

	processed, err = w.ProcessAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	row = f.inboxRow(t, event.ID)
	assert.Equal(t, enums.WebhookInboxDone, row.Status)
	assert.Equal(t, 2, row.AttemptCount)
	assert.Equal(t, int64(1), f.processedCount(t))
}

func TestWorkerFailsPermanentErrorsImmediately(t *testing.T) {
	f := newFixture(t, nil)
	event := f.enqueue(t, "pi_permanent")
	f.ledger.failNext(pkgerrors.New(pkgerrors.CodeNotFound, "investment not found"))
	w := newTestWorker(t, f, 5)

	_, err := w.ProcessAvailable(context.Background())
	require.NoError(t, err)

	row := f.inboxRow(t, event.ID)
	assert.Equal(t, enums.WebhookInboxFailed, row.Status)
	assert.Equal(t, 1, row.AttemptCount)
}

func TestRedeliveryRequeuesFailedEvent(t *testing.T) {
	f := newFixture(t, nil)
	event := f.enqueue(t, "pi_redelivered")
	f.ledger.failNext(pkgerrors.New(pkgerrors.CodeNotFound, "investment not found"))
	w := newTestWorker(t, f, 5)

	_, err := w.ProcessAvailable(context.Background())
	require.NoError(t, err)
	require.Equal(t, enums.WebhookInboxFailed, f.inboxRow(t, event.ID).Status)

	payload, _ := signedPayload(t, event)
	inserted, err := f.svc.Enqueue(context.Background(), event, payload)
	require.NoError(t, err)
	assert.True(t, inserted)

	row := f.inboxRow(t, event.ID)
	assert.Equal(t, enums.WebhookInboxQueued, row.Status)
	assert.Zero(t, row.AttemptCount)
	assert.Nil(t, row.LastError)

	processed, err := w.ProcessAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, enums.WebhookInboxDone, f.inboxRow(t, event.ID).Status)
	assert.Len(t, f.ledger.calls(), 2)
}

func TestRedeliveryLeavesDoneEventAlone(t *testing.T) {
	f := newFixture(t, nil)
	event := f.enqueue(t, "pi_done")
	w := newTestWorker(t, f, 3)
	_, err := w.ProcessAvailable(context.Background())
	require.NoError(t, err)

	payload, _ := signedPayload(t, event)
	inserted, err := f.svc.Enqueue(context.Background(), event, payload)
	require.NoError(t, err)
	assert.False(t, inserted)

	row := f.inboxRow(t, event.ID)
	assert.Equal(t, enums.WebhookInboxDone, row.Status)
	assert.Equal(t, 1, row.AttemptCount)
}

func TestWorkerFailsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, nil)
	event := f.enqueue(t, "pi_exhausted")
	transient := pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")
	f.ledger.failNext(transient, transient)
	w := newTestWorker(t, f, 2)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.conn.Model(&models.WebhookInboxItem{}).
			Where("event_id = ?", event.ID).
			Update("available_at", time.Now().UTC().Add(-time.Second)).Error)
		_, err := w.ProcessAvailable(context.Background())
		require.NoError(t, err)
	}

	row := f.inboxRow(t, event.ID)
	assert.Equal(t, enums.WebhookInboxFailed, row.Status)
	assert.Equal(t, 2, row.AttemptCount)
}

func TestWorkerReclaimsStaleProcessingRows(t *testing.T) {
	f := newFixture(t, nil)
	event := f.enqueue(t, "pi_stale")
	require.NoError(t, f.conn.Model(&models.WebhookInboxItem{}).
		Where("event_id = ?", event.ID).
		UpdateColumns(map[string]any{
			"status":     enums.WebhookInboxProcessing,
			"updated_at": time.Now().UTC().Add(-time.Hour),
		}).Error)
	w := newTestWorker(t, f, 3)

	processed, err := w.ProcessAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, enums.WebhookInboxDone, f.inboxRow(t, event.ID).Status)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	event := f.enqueue(t, "pi_run")
	w, err := NewWorker(WorkerParams{
		Inbox:        f.inbox,
		Handler:      f.svc,
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		Logger:       f.logg,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.inboxRow(t, event.ID).Status == enums.WebhookInboxDone
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Len(t, f.ledger.calls(), 1)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, retryBase, retryDelay(1))
	assert.Equal(t, 4*retryBase, retryDelay(3))
	assert.Equal(t, maxRetryDelay, retryDelay(30))
}
