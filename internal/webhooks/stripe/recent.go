package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type recentStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	RecentKey(scope, id string) string
}

// RecentEvents remembers recently committed event ids in Redis so redeliveries
// are acknowledged without opening a database transaction. It is only a fast
// path; processed_webhook_events stays authoritative.
type RecentEvents struct {
	store recentStore
	ttl   time.Duration
	scope string
}

func NewRecentEvents(store recentStore, ttl time.Duration, scope string) (*RecentEvents, error) {
	if store == nil {
		return nil, errors.New("recent event store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &RecentEvents{store: store, ttl: ttl, scope: scope}, nil
}

func (r *RecentEvents) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	ok, err := r.store.Exists(ctx, r.store.RecentKey(r.scope, eventID))
	if err != nil {
		return false, fmt.Errorf("check recent event: %w", err)
	}
	return ok, nil
}

func (r *RecentEvents) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if err := r.store.Set(ctx, r.store.RecentKey(r.scope, eventID), "1", r.ttl); err != nil {
		return fmt.Errorf("mark recent event: %w", err)
	}
	return nil
}
