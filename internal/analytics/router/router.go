package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ranggacaw/treevest-backend/internal/analytics/types"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/registry"
)

const currentPayloadVersion = 1

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertInvestmentEvent(ctx context.Context, row types.InvestmentEventRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	decode  func(json.RawMessage) (interface{}, error)
	handler Handler
}

// Router dispatches analytics envelopes to the configured handler per event
// type. Payloads are decoded per (event type, version); every event is
// currently at version 1.
type Router struct {
	handlers map[enums.OutboxEventType]Handler
	decoders *registry.DecoderRegistry
	logg     *logger.Logger
}

// NewRouter wires the default handlers and allows overrides for specific events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventInvestmentPurchased: entryFor(writer, logg, purchasedRow),
		enums.EventInvestmentConfirmed: entryFor(writer, logg, confirmedRow),
		enums.EventInvestmentToppedUp:  entryFor(writer, logg, toppedUpRow),
		enums.EventInvestmentCancelled: entryFor(writer, logg, cancelledRow),
		enums.EventInvestmentMatured:   entryFor(writer, logg, maturedRow),
		enums.EventPaymentFailed:       entryFor(writer, logg, paymentFailedRow),
		enums.EventRefundSettled:       entryFor(writer, logg, refundSettledRow),
	}

	for event, custom := range overrides {
		entry, ok := entries[event]
		if !ok || custom == nil {
			continue
		}
		entry.handler = custom
		entries[event] = entry
	}

	router := &Router{
		handlers: make(map[enums.OutboxEventType]Handler, len(entries)),
		decoders: registry.NewDecoderRegistry(),
		logg:     logg,
	}
	for event, entry := range entries {
		router.handlers[event] = entry.handler
		router.decoders.Register(event, currentPayloadVersion, entry.decode)
	}
	return router, nil
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	handler, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	version := envelope.EventVersion
	if version == 0 {
		version = currentPayloadVersion
	}
	if version != currentPayloadVersion {
		return fmt.Errorf("%w: %s@v%d", ErrUnsupportedEventType, envelope.EventType, version)
	}
	payload, err := r.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	return handler.Handle(ctx, envelope, payload)
}

func entryFor[T any](writer Writer, logg *logger.Logger, build func(*T) types.InvestmentEventRow) handlerEntry {
	return handlerEntry{
		decode: func(raw json.RawMessage) (interface{}, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
		handler: &rowHandler[T]{writer: writer, logg: logg, build: build},
	}
}
