package transactions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ranggacaw/treevest-backend/pkg/db"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/db/sqlitetest"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

func TestRepositoryUniqueExternalRef(t *testing.T) {
	conn := sqlitetest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	ref := "pi_same"

	first := &models.Transaction{UserID: uuid.New(), Type: enums.TransactionTypePurchase, Status: enums.TransactionStatusPending, AmountCents: 100, Currency: enums.CurrencyUSD, IdempotencyKey: "a", ExternalRef: &ref}
	second := &models.Transaction{UserID: uuid.New(), Type: enums.TransactionTypePurchase, Status: enums.TransactionStatusPending, AmountCents: 100, Currency: enums.CurrencyUSD, IdempotencyKey: "b", ExternalRef: &ref}
	require.NoError(t, repo.Create(ctx, first))
	err := repo.Create(ctx, second)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, ""))
}

func TestRepositoryInFlightAndLatest(t *testing.T) {
	conn := sqlitetest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	investmentID := uuid.New()

	done := &models.Transaction{UserID: uuid.New(), InvestmentID: &investmentID, Type: enums.TransactionTypePurchase, Status: enums.TransactionStatusCompleted, AmountCents: 100, Currency: enums.CurrencyUSD, IdempotencyKey: "done"}
	require.NoError(t, repo.Create(ctx, done))

	refund := &models.Transaction{UserID: done.UserID, InvestmentID: &investmentID, Type: enums.TransactionTypeRefund, Status: enums.TransactionStatusPending, AmountCents: 100, Currency: enums.CurrencyUSD, IdempotencyKey: "refund"}
	require.NoError(t, repo.Create(ctx, refund))

	inFlight, err := repo.FindInFlightForInvestment(ctx, investmentID)
	require.NoError(t, err)
	assert.Nil(t, inFlight)

	topUp := &models.Transaction{UserID: done.UserID, InvestmentID: &investmentID, Type: enums.TransactionTypeTopUp, Status: enums.TransactionStatusProcessing, AmountCents: 50, Currency: enums.CurrencyUSD, IdempotencyKey: "topup"}
	require.NoError(t, repo.Create(ctx, topUp))

	inFlight, err = repo.FindInFlightForInvestment(ctx, investmentID)
	require.NoError(t, err)
	require.NotNil(t, inFlight)
	assert.Equal(t, topUp.ID, inFlight.ID)

	latest, err := repo.FindLatestForInvestment(ctx, investmentID, enums.TransactionTypePurchase)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, done.ID, latest.ID)

	rows, err := repo.ListForInvestment(ctx, investmentID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestRepositoryUpdateSelectedFieldsOnly(t *testing.T) {
	conn := sqlitetest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	txn := &models.Transaction{UserID: uuid.New(), Type: enums.TransactionTypePurchase, Status: enums.TransactionStatusPending, AmountCents: 100, Currency: enums.CurrencyUSD, IdempotencyKey: "upd"}
	require.NoError(t, repo.Create(ctx, txn))

	txn.Status = enums.TransactionStatusProcessing
	txn.AmountCents = 999
	require.NoError(t, repo.Update(ctx, txn, "status"))

	stored, err := repo.FindByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusProcessing, stored.Status)
	assert.Equal(t, int64(100), stored.AmountCents)
}
