package stripewebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/pkg/db"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/db/sqlitetest"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
)

const testSecret = "whsec_test"

type ledgerStub struct {
	mu     sync.Mutex
	events []transactions.ProcessorEvent
	errs   []error
}

func (l *ledgerStub) ApplyProcessorEvent(_ context.Context, _ *gorm.DB, event transactions.ProcessorEvent) (*transactions.ApplyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &transactions.ApplyResult{Transaction: &models.Transaction{}, Changed: true}, nil
}

func (l *ledgerStub) failNext(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, errs...)
}

func (l *ledgerStub) calls() []transactions.ProcessorEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transactions.ProcessorEvent(nil), l.events...)
}

type memoryRecentStore struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemoryRecentStore() *memoryRecentStore {
	return &memoryRecentStore{keys: map[string]bool{}}
}

func (m *memoryRecentStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.keys[key], nil
}

func (m *memoryRecentStore) Set(_ context.Context, key string, _ any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.keys[key] = true
	return nil
}

func (m *memoryRecentStore) RecentKey(scope, id string) string {
	return "treevest:recent:" + scope + ":" + id
}

type fixture struct {
	conn   *gorm.DB
	ledger *ledgerStub
	inbox  InboxRepository
	events EventRepository
	svc    *Service
	logg   *logger.Logger
}

func newFixture(t *testing.T, recent *RecentEvents) *fixture {
	t.Helper()
	conn := sqlitetest.Open(t)
	ledger := &ledgerStub{}
	logg := logger.New(logger.Options{ServiceName: "webhook-test", Output: io.Discard})
	f := &fixture{
		conn:   conn,
		ledger: ledger,
		inbox:  NewInboxRepository(conn),
		events: NewEventRepository(conn),
		logg:   logg,
	}
	svc, err := NewService(ServiceParams{
		TransactionRunner: db.FromGorm(conn),
		Events:            f.events,
		Inbox:             f.inbox,
		Ledger:            ledger,
		Recent:            recent,
		Logger:            logg,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) processedCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.ProcessedWebhookEvent{}).Count(&count).Error)
	return count
}

func intentEvent(t *testing.T, eventType stripe.EventType, intent *stripe.PaymentIntent) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	require.NoError(t, err)
	return &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Object:     "event",
		Type:       eventType,
		APIVersion: stripe.APIVersion,
		Created:    time.Now().Unix(),
		Data:       &stripe.EventData{Raw: raw},
	}
}

func signedPayload(t *testing.T, event *stripe.Event) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload, signatureHeader(payload, testSecret, time.Now().Unix())
}

func signatureHeader(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
