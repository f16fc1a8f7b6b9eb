// Package payments isolates the card processor behind a small gateway port.
package payments

import (
	"context"
	"errors"

	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
)

// Error reasons surfaced when the processor call did not produce an intent.
const (
	ReasonOutcomeUnknown = "PAYMENT_OUTCOME_UNKNOWN"
	ReasonDeclined       = "PAYMENT_DECLINED"
)

// IntentStatus mirrors the processor's intent state machine.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// Intent is the processor-side payment intent.
type Intent struct {
	ExternalRef  string
	ClientSecret string
	Status       IntentStatus
	AmountCents  int64
	Currency     string
}

// CreateIntentInput describes the money movement to request. IdempotencyKey
// must be stable across retries of the same local transaction.
type CreateIntentInput struct {
	IdempotencyKey        string
	AmountCents           int64
	Currency              string
	CustomerID            string
	PaymentMethodExternal string
	Description           string
	Metadata              map[string]string
}

// Gateway is the processor port used by the transaction ledger.
type Gateway interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error)
	CancelIntent(ctx context.Context, externalRef, idempotencyKey string) (*Intent, error)
	GetIntent(ctx context.Context, externalRef string) (*Intent, error)
}

// ErrOutcomeUnknown marks a call whose result could not be observed. The intent
// may or may not exist; callers must not assume failure.
var ErrOutcomeUnknown = errors.New("payment gateway outcome unknown")

// ErrDeclined marks a definitive rejection by the processor.
var ErrDeclined = errors.New("payment gateway declined request")

// IsOutcomeUnknown reports whether err leaves the processor state undetermined.
func IsOutcomeUnknown(err error) bool {
	return errors.Is(err, ErrOutcomeUnknown)
}

// IsDeclined reports whether err is a definitive processor rejection.
func IsDeclined(err error) bool {
	return errors.Is(err, ErrDeclined)
}

type gatewayError struct {
	kind    error
	message string
	cause   error
}

func (e *gatewayError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *gatewayError) Is(target error) bool {
	return target == e.kind
}

func (e *gatewayError) Unwrap() error {
	return e.cause
}

// OutcomeUnknownError builds the coded error returned when op's result could not be observed.
func OutcomeUnknownError(op string, cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, &gatewayError{kind: ErrOutcomeUnknown, message: op, cause: cause}, "payment processor unavailable").
		WithReason(ReasonOutcomeUnknown)
}

// DeclinedError builds the coded error returned when the processor rejects op.
func DeclinedError(op, message string, cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, &gatewayError{kind: ErrDeclined, message: op, cause: cause}, message).
		WithReason(ReasonDeclined)
}
