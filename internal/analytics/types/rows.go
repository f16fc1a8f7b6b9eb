package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// InvestmentEventRow mirrors the investment_events BigQuery schema. One row is
// written per domain event; amounts are minor units.
type InvestmentEventRow struct {
	EventID          string             `bigquery:"event_id"`
	EventType        string             `bigquery:"event_type"`
	EventVersion     int64              `bigquery:"event_version"`
	OccurredAt       time.Time          `bigquery:"occurred_at"`
	InvestmentID     *string            `bigquery:"investment_id"`
	TransactionID    *string            `bigquery:"transaction_id"`
	UserID           *string            `bigquery:"user_id"`
	TreeID           *string            `bigquery:"tree_id"`
	TreeName         *string            `bigquery:"tree_name"`
	TransactionType  *string            `bigquery:"transaction_type"`
	AmountCents      int64              `bigquery:"amount_cents"`
	TotalCents       *int64             `bigquery:"total_cents"`
	Currency         string             `bigquery:"currency"`
	InvestmentStatus *string            `bigquery:"investment_status"`
	PreviousStatus   *string            `bigquery:"previous_status"`
	Reason           *string            `bigquery:"reason"`
	Payload          cbigquery.NullJSON `bigquery:"payload"`
}
