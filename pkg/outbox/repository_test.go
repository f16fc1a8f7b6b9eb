package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/db/sqlitetest"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

func emitN(t *testing.T, conn *gorm.DB, svc *Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
			EventType:     enums.EventInvestmentPurchased,
			AggregateType: enums.AggregateInvestment,
			AggregateID:   uuid.New(),
			Data:          map[string]any{"i": i},
		}))
	}
}

func TestFetchUnpublishedForPublishSkipsExhaustedRows(t *testing.T) {
	conn := sqlitetest.Open(t)
	repo := NewRepository(conn)
	emitN(t, conn, NewService(repo, nil), 3)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		return err
	}))
	require.Len(t, rows, 3)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, rows[1].ID, errors.New("pubsub unavailable")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, rows[2].ID, errors.New("bad payload"), 5)
	}))

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		remaining, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		return err
	}))
	require.Len(t, remaining, 1)
	assert.Equal(t, rows[1].ID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)
	assert.Equal(t, "pubsub unavailable", *remaining[0].LastError)
}

func TestPublishMarkersRequireTransaction(t *testing.T) {
	repo := NewRepository(nil)
	_, err := repo.FetchUnpublishedForPublish(nil, 1, 1)
	assert.Error(t, err)
	assert.Error(t, repo.MarkPublishedTx(nil, uuid.New()))
	assert.Error(t, repo.MarkFailedTx(nil, uuid.New(), errors.New("x")))
	assert.Error(t, repo.MarkTerminalTx(nil, uuid.New(), errors.New("x"), 3))
}
