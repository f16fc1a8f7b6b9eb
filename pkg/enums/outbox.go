package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateInvestment  OutboxAggregateType = "investment"
	AggregateTransaction OutboxAggregateType = "transaction"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateInvestment,
	AggregateTransaction,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventInvestmentPurchased OutboxEventType = "investment_purchased"
	EventInvestmentConfirmed OutboxEventType = "investment_confirmed"
	EventInvestmentToppedUp  OutboxEventType = "investment_topped_up"
	EventInvestmentCancelled OutboxEventType = "investment_cancelled"
	EventInvestmentMatured   OutboxEventType = "investment_matured"
	EventPaymentFailed       OutboxEventType = "payment_failed"
	EventRefundSettled       OutboxEventType = "refund_settled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventInvestmentPurchased,
	EventInvestmentConfirmed,
	EventInvestmentToppedUp,
	EventInvestmentCancelled,
	EventInvestmentMatured,
	EventPaymentFailed,
	EventRefundSettled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
