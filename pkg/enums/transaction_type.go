package enums

import "fmt"

// TransactionType classifies what a transaction moves money for.
type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeTopUp      TransactionType = "top_up"
	TransactionTypePayout     TransactionType = "payout"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

var validTransactionTypes = []TransactionType{
	TransactionTypePurchase,
	TransactionTypeTopUp,
	TransactionTypePayout,
	TransactionTypeRefund,
	TransactionTypeWithdrawal,
}

// String implements fmt.Stringer.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionType.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}

// FundsInvestment reports whether completing the transaction commits capital to an investment.
func (t TransactionType) FundsInvestment() bool {
	return t == TransactionTypePurchase || t == TransactionTypeTopUp
}

// FundingTransactionTypes lists the types collected through a payment intent.
func FundingTransactionTypes() []TransactionType {
	return []TransactionType{TransactionTypePurchase, TransactionTypeTopUp}
}
