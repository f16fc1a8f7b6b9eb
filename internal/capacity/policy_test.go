package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePurchase(t *testing.T) {
	bounds := Bounds{MinCents: 1000, MaxCents: 10000}

	tests := []struct {
		name   string
		amount int64
		reason Reason
	}{
		{name: "below minimum", amount: 500, reason: ReasonBelowMinimum},
		{name: "at minimum", amount: 1000},
		{name: "inside", amount: 5000},
		{name: "at maximum", amount: 10000},
		{name: "above maximum", amount: 10001, reason: ReasonAboveMaximum},
		{name: "zero", amount: 0, reason: ReasonNonPositive},
		{name: "negative", amount: -1, reason: ReasonNonPositive},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := ValidatePurchase(bounds, tc.amount)
			if tc.reason == "" {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tc.reason, v.Reason)
			assert.Equal(t, tc.amount, v.Amount)
		})
	}
}

func TestValidatePurchaseHoldsForEveryAmountInRange(t *testing.T) {
	bounds := Bounds{MinCents: 250, MaxCents: 900}
	for amount := int64(-10); amount <= 1000; amount += 5 {
		v := ValidatePurchase(bounds, amount)
		inRange := amount >= bounds.MinCents && amount <= bounds.MaxCents
		if inRange != (v == nil) {
			t.Fatalf("amount %d: inRange=%v violation=%v", amount, inRange, v)
		}
	}
}

func TestValidateTopUp(t *testing.T) {
	bounds := Bounds{MinCents: 1000, MaxCents: 10000}

	v := ValidateTopUp(bounds, 5000, 6000)
	require.NotNil(t, v)
	assert.Equal(t, ReasonExceedsRemaining, v.Reason)
	assert.Equal(t, int64(5000), v.Remaining)
	assert.Equal(t, int64(5000), v.Details()["remaining"])

	assert.Nil(t, ValidateTopUp(bounds, 5000, 4000))
	assert.Nil(t, ValidateTopUp(bounds, 5000, 5000))

	v = ValidateTopUp(bounds, 5000, 0)
	require.NotNil(t, v)
	assert.Equal(t, ReasonNonPositive, v.Reason)

	v = ValidateTopUp(bounds, 10000, 1)
	require.NotNil(t, v)
	assert.Equal(t, ReasonExceedsRemaining, v.Reason)
	assert.Equal(t, int64(0), v.Remaining)
}

func TestMisconfiguredBoundsAreRejected(t *testing.T) {
	v := ValidatePurchase(Bounds{MinCents: 5000, MaxCents: 1000}, 2000)
	require.NotNil(t, v)
	assert.Equal(t, ReasonMisconfiguredTree, v.Reason)

	v = ValidateTopUp(Bounds{MinCents: 0, MaxCents: 1000}, 100, 100)
	require.NotNil(t, v)
	assert.Equal(t, ReasonMisconfiguredTree, v.Reason)
}

func TestRemainingFloorsAtZero(t *testing.T) {
	assert.Equal(t, int64(0), Remaining(Bounds{MinCents: 1, MaxCents: 100}, 150))
	assert.Equal(t, int64(40), Remaining(Bounds{MinCents: 1, MaxCents: 100}, 60))
}
