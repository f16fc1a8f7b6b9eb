package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/config"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/metrics"
	"github.com/ranggacaw/treevest-backend/pkg/outbox"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/payloads"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/registry"
)

func investmentEvent(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateInvestment,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, uuid.NewString()),
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

func resolvedFor(payload any) *registry.ResolvedEvent {
	userID := uuid.New()
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "treevest-domain-events"},
		Envelope: outbox.PayloadEnvelope{
			Version: 1,
			Actor:   outbox.UserActor(userID, "investor"),
		},
		Payload: payload,
	}
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		investmentEvent(t, enums.EventInvestmentPurchased, 0),
		investmentEvent(t, enums.EventInvestmentPurchased, 0),
	}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	service, _ := newTestService(t, repo, pub, &fakeRegistry{resolved: resolvedFor(&payloads.InvestmentPurchasedEvent{})}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{repo.events[0].ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{repo.events[1].ID}, repo.published)
}

func TestProcessBatchReportsIdleWhenEmpty(t *testing.T) {
	service, _ := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestPublishSetsRoutingAttributes(t *testing.T) {
	event := investmentEvent(t, enums.EventInvestmentConfirmed, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	resolved := resolvedFor(&payloads.InvestmentConfirmedEvent{})
	service, reg := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, []byte(event.Payload), msg.Data)
	assert.Equal(t, event.ID.String(), msg.Attributes["event_id"])
	assert.Equal(t, "investment_confirmed", msg.Attributes["event_type"])
	assert.Equal(t, "investment", msg.Attributes["aggregate_type"])
	assert.Equal(t, event.AggregateID.String(), msg.Attributes["aggregate_id"])
	assert.Equal(t, "1", msg.Attributes["event_version"])
	assert.Equal(t, resolved.Envelope.Actor.UserID.String(), msg.Attributes["user_id"])

	expected := `
# HELP outbox_events_total Outbox rows handled by event type and result.
# TYPE outbox_events_total counter
outbox_events_total{event_type="investment_confirmed",result="published"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "outbox_events_total"))
}

func TestProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := investmentEvent(t, enums.EventInvestmentCancelled, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	eventRegistry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	service, _ := newTestService(t, repo, &fakePublisher{}, eventRegistry, dlq, nil)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, []byte(event.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "invalid payload")
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := investmentEvent(t, enums.EventPaymentFailed, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	dlq := &fakeDLQRepo{}
	service, _ := newTestService(t, repo, pub, &fakeRegistry{resolved: resolvedFor(&payloads.PaymentFailedEvent{})}, dlq, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	assert.Empty(t, repo.failed)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchDeadLettersMissingPublisher(t *testing.T) {
	event := investmentEvent(t, enums.EventInvestmentMatured, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	service, _ := newTestService(t, repo, nil, &fakeRegistry{resolved: resolvedFor(&payloads.InvestmentMaturedEvent{})}, dlq, nil)
	service.publisherFactory = func(string) publisher { return nil }

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
}

func TestProcessBatchPropagatesBookkeepingErrors(t *testing.T) {
	event := investmentEvent(t, enums.EventInvestmentToppedUp, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}, markErr: errors.New("db gone")}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service, _ := newTestService(t, repo, pub, &fakeRegistry{resolved: resolvedFor(&payloads.InvestmentToppedUpEvent{})}, &fakeDLQRepo{}, nil)

	_, err := service.processBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestRunStopsOnCancel(t *testing.T) {
	service, _ := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Config: &config.Config{}, Logger: testLogger()})
	require.Error(t, err)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(0, 500*time.Millisecond, 10*time.Second))
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, time.Second, 10*time.Second))
	assert.Equal(t, 10*time.Second, nextBackoff(8*time.Second, time.Second, 10*time.Second))
}

func newTestService(t *testing.T, repo outboxRepository, pub *fakePublisher, eventRegistry registryResolver, dlq dlqRepository, override *config.OutboxConfig) (*Service, *prometheus.Registry) {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           testLogger(),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         eventRegistry,
		PublisherFactory: func(string) publisher { return pub },
		DLQRepository:    dlq,
		Metrics:          metrics.NewOutboxMetrics(reg),
	})
	require.NoError(t, err)
	return service, reg
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(tb, err)
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	markErr   error
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error { return nil }

func (f *fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
