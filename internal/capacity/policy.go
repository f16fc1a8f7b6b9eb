// Package capacity validates proposed investment amounts against a tree's bounds.
package capacity

import "fmt"

// Reason names the bound a proposed amount violated.
type Reason string

const (
	ReasonNonPositive       Reason = "NON_POSITIVE"
	ReasonBelowMinimum      Reason = "BELOW_MINIMUM"
	ReasonAboveMaximum      Reason = "ABOVE_MAXIMUM"
	ReasonExceedsRemaining  Reason = "EXCEEDS_REMAINING_CAPACITY"
	ReasonMisconfiguredTree Reason = "MISCONFIGURED_BOUNDS"
)

// Bounds are the per-investment limits configured on a tree, in minor units.
type Bounds struct {
	MinCents int64
	MaxCents int64
}

// Violation describes why an amount was rejected.
type Violation struct {
	Reason    Reason
	Amount    int64
	Bounds    Bounds
	Remaining int64
}

func (v *Violation) Error() string {
	switch v.Reason {
	case ReasonBelowMinimum:
		return fmt.Sprintf("amount %d is below the minimum of %d", v.Amount, v.Bounds.MinCents)
	case ReasonAboveMaximum:
		return fmt.Sprintf("amount %d is above the maximum of %d", v.Amount, v.Bounds.MaxCents)
	case ReasonExceedsRemaining:
		return fmt.Sprintf("amount %d exceeds remaining capacity of %d", v.Amount, v.Remaining)
	case ReasonMisconfiguredTree:
		return fmt.Sprintf("tree bounds [%d, %d] are invalid", v.Bounds.MinCents, v.Bounds.MaxCents)
	default:
		return fmt.Sprintf("amount %d must be positive", v.Amount)
	}
}

// Details renders the violation for API error payloads.
func (v *Violation) Details() map[string]any {
	details := map[string]any{
		"violation": string(v.Reason),
		"amount":    v.Amount,
		"min":       v.Bounds.MinCents,
		"max":       v.Bounds.MaxCents,
	}
	if v.Reason == ReasonExceedsRemaining {
		details["remaining"] = v.Remaining
	}
	return details
}

// ValidatePurchase checks a new investment amount against the tree bounds.
func ValidatePurchase(bounds Bounds, amountCents int64) *Violation {
	if v := checkBounds(bounds); v != nil {
		v.Amount = amountCents
		return v
	}
	switch {
	case amountCents <= 0:
		return &Violation{Reason: ReasonNonPositive, Amount: amountCents, Bounds: bounds}
	case amountCents < bounds.MinCents:
		return &Violation{Reason: ReasonBelowMinimum, Amount: amountCents, Bounds: bounds}
	case amountCents > bounds.MaxCents:
		return &Violation{Reason: ReasonAboveMaximum, Amount: amountCents, Bounds: bounds}
	}
	return nil
}

// ValidateTopUp checks an additional amount against the room left between the
// committed amount and the tree maximum.
func ValidateTopUp(bounds Bounds, currentCents, extraCents int64) *Violation {
	if v := checkBounds(bounds); v != nil {
		v.Amount = extraCents
		return v
	}
	if extraCents <= 0 {
		return &Violation{Reason: ReasonNonPositive, Amount: extraCents, Bounds: bounds}
	}
	remaining := Remaining(bounds, currentCents)
	if extraCents > remaining {
		return &Violation{Reason: ReasonExceedsRemaining, Amount: extraCents, Bounds: bounds, Remaining: remaining}
	}
	return nil
}

// Remaining returns max - current, floored at zero.
func Remaining(bounds Bounds, currentCents int64) int64 {
	remaining := bounds.MaxCents - currentCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

func checkBounds(bounds Bounds) *Violation {
	if bounds.MinCents <= 0 || bounds.MaxCents < bounds.MinCents {
		return &Violation{Reason: ReasonMisconfiguredTree, Bounds: bounds}
	}
	return nil
}
