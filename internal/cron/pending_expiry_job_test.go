package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ranggacaw/treevest-backend/internal/investments"
)

type fakeExpirer struct {
	calls int
	ttl   time.Duration
	limit int
	err   error
}

func (f *fakeExpirer) ExpireStale(_ context.Context, ttl time.Duration, limit int) (investments.ExpireResult, error) {
	f.calls++
	f.ttl, f.limit = ttl, limit
	return investments.ExpireResult{Scanned: 2, Expired: 1, Skipped: 1}, f.err
}

func TestPendingExpiryJobSkipsWhenDisabled(t *testing.T) {
	expirer := &fakeExpirer{}
	job, err := NewPendingExpiryJob(PendingExpiryJobParams{Logger: testLogger(), Expirer: expirer})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, expirer.calls)
}

func TestPendingExpiryJobPassesTTLAndBatch(t *testing.T) {
	expirer := &fakeExpirer{}
	job, err := NewPendingExpiryJob(PendingExpiryJobParams{
		Logger:    testLogger(),
		Expirer:   expirer,
		TTL:       48 * time.Hour,
		BatchSize: 25,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, expirer.calls)
	assert.Equal(t, 48*time.Hour, expirer.ttl)
	assert.Equal(t, 25, expirer.limit)
}

func TestPendingExpiryJobPropagatesError(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("locked")}
	job, err := NewPendingExpiryJob(PendingExpiryJobParams{Logger: testLogger(), Expirer: expirer, TTL: time.Hour})
	require.NoError(t, err)

	require.Error(t, job.Run(context.Background()))
}
