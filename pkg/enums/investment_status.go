package enums

import "fmt"

// InvestmentStatus tracks the lifecycle of a user's stake in a tree.
type InvestmentStatus string

const (
	InvestmentStatusPendingPayment InvestmentStatus = "pending_payment"
	InvestmentStatusActive         InvestmentStatus = "active"
	InvestmentStatusMatured        InvestmentStatus = "matured"
	InvestmentStatusCancelled      InvestmentStatus = "cancelled"
)

var validInvestmentStatuses = []InvestmentStatus{
	InvestmentStatusPendingPayment,
	InvestmentStatusActive,
	InvestmentStatusMatured,
	InvestmentStatusCancelled,
}

// String implements fmt.Stringer.
func (i InvestmentStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is a known InvestmentStatus.
func (i InvestmentStatus) IsValid() bool {
	for _, candidate := range validInvestmentStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInvestmentStatus converts raw input into a InvestmentStatus.
func ParseInvestmentStatus(value string) (InvestmentStatus, error) {
	for _, candidate := range validInvestmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid investment status %q", value)
}

// IsTerminal reports whether no further transition is permitted.
func (i InvestmentStatus) IsTerminal() bool {
	return i == InvestmentStatusMatured || i == InvestmentStatusCancelled
}

// CanTransitionTo reports whether moving from i to next is a legal edge.
func (i InvestmentStatus) CanTransitionTo(next InvestmentStatus) bool {
	switch i {
	case InvestmentStatusPendingPayment:
		return next == InvestmentStatusActive || next == InvestmentStatusCancelled
	case InvestmentStatusActive:
		return next == InvestmentStatusMatured || next == InvestmentStatusCancelled
	default:
		return false
	}
}
