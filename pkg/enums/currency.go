package enums

import (
	"fmt"
	"strings"
)

// Currency is a lower-case ISO 4217 code as accepted by Stripe. All supported
// currencies use two-decimal minor units.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyIDR Currency = "idr"
	CurrencySGD Currency = "sgd"
	CurrencyEUR Currency = "eur"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyIDR,
	CurrencySGD,
	CurrencyEUR,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCurrency converts a raw string into a Currency, ignoring case.
func ParseCurrency(value string) (Currency, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validCurrencies {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
