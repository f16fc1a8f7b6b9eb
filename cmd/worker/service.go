package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ranggacaw/treevest-backend/pkg/enums"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
)

const defaultHeartbeat = time.Minute

type pinger interface {
	Ping(context.Context) error
}

type inboxRunner interface {
	Run(ctx context.Context) error
}

type inboxCounter interface {
	CountByStatus(ctx context.Context, status enums.WebhookInboxStatus) (int64, error)
}

type ServiceParams struct {
	Logger    *logger.Logger
	DB        pinger
	Redis     pinger
	Worker    inboxRunner
	Inbox     inboxCounter
	Heartbeat time.Duration
}

// Service runs the webhook inbox worker pool and logs the backlog on each heartbeat.
type Service struct {
	logg      *logger.Logger
	db        pinger
	redis     pinger
	worker    inboxRunner
	inbox     inboxCounter
	heartbeat time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Worker == nil {
		return nil, errors.New("inbox worker is required")
	}
	if params.Inbox == nil {
		return nil, errors.New("inbox repository is required")
	}
	heartbeat := params.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Service{
		logg:      params.Logger,
		db:        params.DB,
		redis:     params.Redis,
		worker:    params.Worker,
		inbox:     params.Inbox,
		heartbeat: heartbeat,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db); err != nil {
		return err
	}
	if s.redis != nil {
		if err := pingDependency(ctx, s.logg, "redis", s.redis); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, p pinger) error {
	if err := p.Ping(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.worker.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			// Let in-flight events finish before returning.
			return <-errCh
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "webhook inbox worker stopped unexpectedly", err)
			}
			return err
		case <-ticker.C:
			s.logBacklog(ctx)
		}
	}
}

func (s *Service) logBacklog(ctx context.Context) {
	fields := map[string]any{}
	for _, status := range []enums.WebhookInboxStatus{enums.WebhookInboxQueued, enums.WebhookInboxFailed} {
		count, err := s.inbox.CountByStatus(ctx, status)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook inbox count failed")
			return
		}
		fields[string(status)] = count
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "webhook inbox heartbeat")
}
