// Package paymentstest provides an in-memory payments.Gateway that mirrors
// the processor's idempotent-replay behaviour.
package paymentstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ranggacaw/treevest-backend/internal/payments"
)

// Gateway returns the same intent for a repeated idempotency key.
type Gateway struct {
	mu      sync.Mutex
	byKey   map[string]*payments.Intent
	byRef   map[string]*payments.Intent
	seq     int
	creates []payments.CreateIntentInput
	cancels []string

	createErrs []error
	cancelErr  error
}

func New() *Gateway {
	return &Gateway{
		byKey: make(map[string]*payments.Intent),
		byRef: make(map[string]*payments.Intent),
	}
}

// FailNextCreate queues errors returned by upcoming CreateIntent calls, in order.
func (g *Gateway) FailNextCreate(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErrs = append(g.createErrs, errs...)
}

// FailCancel makes every CancelIntent call return err.
func (g *Gateway) FailCancel(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelErr = err
}

// SetStatus overrides the processor-side status of an intent.
func (g *Gateway) SetStatus(ref string, status payments.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if intent, ok := g.byRef[ref]; ok {
		intent.Status = status
	}
}

// Creates returns every CreateIntent input received.
func (g *Gateway) Creates() []payments.CreateIntentInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.CreateIntentInput(nil), g.creates...)
}

// Cancels returns every intent reference passed to CancelIntent.
func (g *Gateway) Cancels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

// IntentCount reports how many distinct intents exist.
func (g *Gateway) IntentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byRef)
}

func (g *Gateway) CreateIntent(_ context.Context, input payments.CreateIntentInput) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, input)
	if len(g.createErrs) > 0 {
		err := g.createErrs[0]
		g.createErrs = g.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if intent, ok := g.byKey[input.IdempotencyKey]; ok {
		copied := *intent
		return &copied, nil
	}
	g.seq++
	ref := fmt.Sprintf("pi_test_%d", g.seq)
	intent := &payments.Intent{
		ExternalRef:  ref,
		ClientSecret: ref + "_secret",
		Status:       payments.IntentRequiresPaymentMethod,
		AmountCents:  input.AmountCents,
		Currency:     input.Currency,
	}
	g.byKey[input.IdempotencyKey] = intent
	g.byRef[ref] = intent
	copied := *intent
	return &copied, nil
}

// CreateWithoutResponse registers an intent as if the processor created it
// but the response never reached the caller.
func (g *Gateway) CreateWithoutResponse(ctx context.Context, input payments.CreateIntentInput) error {
	if _, err := g.CreateIntent(ctx, input); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) CancelIntent(_ context.Context, externalRef, _ string) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, externalRef)
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	intent, ok := g.byRef[externalRef]
	if !ok {
		return nil, payments.DeclinedError("cancel_intent", "no such payment intent", nil)
	}
	switch intent.Status {
	case payments.IntentSucceeded, payments.IntentProcessing:
		return nil, payments.DeclinedError("cancel_intent", "payment intent cannot be canceled", nil)
	}
	intent.Status = payments.IntentCanceled
	copied := *intent
	return &copied, nil
}

func (g *Gateway) GetIntent(_ context.Context, externalRef string) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.byRef[externalRef]
	if !ok {
		return nil, payments.DeclinedError("get_intent", "no such payment intent", nil)
	}
	copied := *intent
	return &copied, nil
}

var _ payments.Gateway = (*Gateway)(nil)
