package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
)

type fakeIntentAPI struct {
	newCalls    []*stripe.PaymentIntentParams
	newResults  []error
	cancelCalls []string
	cancelErr   error
	blockUntil  bool
}

func (f *fakeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.newCalls = append(f.newCalls, params)
	idx := len(f.newCalls) - 1
	if f.blockUntil {
		<-params.Context.Done()
		return nil, params.Context.Err()
	}
	if idx < len(f.newResults) && f.newResults[idx] != nil {
		return nil, f.newResults[idx]
	}
	return &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		Amount:       *params.Amount,
		Currency:     stripe.Currency(*params.Currency),
	}, nil
}

func (f *fakeIntentAPI) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	f.cancelCalls = append(f.cancelCalls, id)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusCanceled}, nil
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded}, nil
}

func newTestGateway(api intentAPI, timeout time.Duration) *StripeGateway {
	return &StripeGateway{api: api, timeout: timeout}
}

func createInput() CreateIntentInput {
	return CreateIntentInput{
		IdempotencyKey: "txn-key-1",
		AmountCents:    10000,
		Currency:       "usd",
		Metadata:       map[string]string{"transaction_id": "t-1"},
	}
}

func TestCreateIntentSuccess(t *testing.T) {
	api := &fakeIntentAPI{}
	gw := newTestGateway(api, time.Second)

	intent, err := gw.CreateIntent(context.Background(), createInput())
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ExternalRef)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, int64(10000), intent.AmountCents)
	require.Len(t, api.newCalls, 1)
	require.NotNil(t, api.newCalls[0].IdempotencyKey)
	assert.Equal(t, "txn-key-1", *api.newCalls[0].IdempotencyKey)
	assert.Equal(t, "t-1", api.newCalls[0].Metadata["transaction_id"])
}

func TestCreateIntentRetriesOnceWithSameKey(t *testing.T) {
	api := &fakeIntentAPI{newResults: []error{
		&stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable, Type: stripe.ErrorTypeAPI},
	}}
	gw := newTestGateway(api, time.Second)

	intent, err := gw.CreateIntent(context.Background(), createInput())
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ExternalRef)
	require.Len(t, api.newCalls, 2)
	assert.Equal(t, *api.newCalls[0].IdempotencyKey, *api.newCalls[1].IdempotencyKey)
}

func TestCreateIntentTimeoutIsOutcomeUnknown(t *testing.T) {
	api := &fakeIntentAPI{blockUntil: true}
	gw := newTestGateway(api, 10*time.Millisecond)

	_, err := gw.CreateIntent(context.Background(), createInput())
	require.Error(t, err)
	assert.True(t, IsOutcomeUnknown(err))
	assert.False(t, IsDeclined(err))
	assert.Len(t, api.newCalls, 2)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
	assert.Equal(t, ReasonOutcomeUnknown, typed.Reason())
}

func TestCreateIntentCardErrorNotRetried(t *testing.T) {
	api := &fakeIntentAPI{newResults: []error{
		&stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard, Msg: "Your card was declined."},
	}}
	gw := newTestGateway(api, time.Second)

	_, err := gw.CreateIntent(context.Background(), createInput())
	require.Error(t, err)
	assert.True(t, IsDeclined(err))
	assert.Len(t, api.newCalls, 1)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, "Your card was declined.", typed.Message())
	assert.Equal(t, ReasonDeclined, typed.Reason())
}

func TestCreateIntentRequiresKey(t *testing.T) {
	gw := newTestGateway(&fakeIntentAPI{}, time.Second)
	input := createInput()
	input.IdempotencyKey = ""

	_, err := gw.CreateIntent(context.Background(), input)
	require.Error(t, err)
}

func TestCancelIntentDeclinedWhenAlreadySucceeded(t *testing.T) {
	api := &fakeIntentAPI{cancelErr: &stripe.Error{
		HTTPStatusCode: http.StatusBadRequest,
		Type:           stripe.ErrorTypeInvalidRequest,
		Code:           stripe.ErrorCodePaymentIntentUnexpectedState,
		Msg:            "cannot cancel",
	}}
	gw := newTestGateway(api, time.Second)

	_, err := gw.CancelIntent(context.Background(), "pi_123", "cancel-key")
	require.Error(t, err)
	assert.True(t, IsDeclined(err))
	assert.Equal(t, []string{"pi_123"}, api.cancelCalls)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.True(t, isTransient(errors.New("connection reset")))
	assert.True(t, isTransient(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}))
	assert.False(t, isTransient(&stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest}))
	assert.False(t, isTransient(nil))
}
