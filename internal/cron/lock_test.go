package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]string
	ttl    time.Duration
}

func newMemoryStore() *memoryStore { return &memoryStore{values: map[string]string{}} }

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttl = ttl
	return true, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := newMemoryStore()
	first, err := NewRedisLock(store, "treevest:cron:lock:test", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "treevest:cron:lock:test", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, store.ttl)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// A non-owner release leaves the holder's key intact.
	require.NoError(t, second.Release(context.Background()))
	assert.Len(t, store.values, 1)

	require.NoError(t, first.Release(context.Background()))
	assert.Empty(t, store.values)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseAfterExpiry(t *testing.T) {
	store := newMemoryStore()
	lock, err := NewRedisLock(store, "k", 0)
	require.NoError(t, err)
	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, defaultLockTTL, store.ttl)

	delete(store.values, "k")
	require.NoError(t, lock.Release(context.Background()))
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", 0)
	require.Error(t, err)
	_, err = NewRedisLock(newMemoryStore(), "", 0)
	require.Error(t, err)
}
