package enums

import "fmt"

// TransactionStatus tracks a single money movement attempt against the processor.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusProcessing,
	TransactionStatusCompleted,
	TransactionStatusFailed,
	TransactionStatusCancelled,
}

// String implements fmt.Stringer.
func (t TransactionStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionStatus.
func (t TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}

// IsTerminal reports whether the transaction is immutable.
func (t TransactionStatus) IsTerminal() bool {
	switch t {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from t to next is a legal, forward-only edge.
func (t TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch t {
	case TransactionStatusPending:
		return next == TransactionStatusProcessing || next.IsTerminal()
	case TransactionStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// NonTerminalTransactionStatuses lists the statuses that still await a processor outcome.
func NonTerminalTransactionStatuses() []TransactionStatus {
	return []TransactionStatus{TransactionStatusPending, TransactionStatusProcessing}
}
