package payloads

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

func TestNewMoneyDisplay(t *testing.T) {
	cases := map[int64]string{
		10000: "100.00",
		5:     "0.05",
		12345: "123.45",
		0:     "0.00",
	}
	for cents, want := range cases {
		assert.Equal(t, want, NewMoney(cents, enums.CurrencyUSD).Amount, "cents=%d", cents)
	}
}

func TestInvestmentPurchasedEventFlattensEmbeddedFields(t *testing.T) {
	evt := InvestmentPurchasedEvent{
		InvestmentRef: InvestmentRef{
			InvestmentID: uuid.New(),
			UserID:       uuid.New(),
			TreeID:       uuid.New(),
			TreeName:     "Alphonso Mango #12",
		},
		TransactionID: uuid.New(),
		Money:         NewMoney(10000, enums.CurrencyUSD),
	}

	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "Alphonso Mango #12", decoded["tree_name"])
	assert.Equal(t, "100.00", decoded["amount"])
	assert.Equal(t, float64(10000), decoded["amount_cents"])
	assert.Equal(t, "usd", decoded["currency"])
}
