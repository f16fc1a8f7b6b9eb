package trees

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ranggacaw/treevest-backend/pkg/db/sqlitetest"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

func TestRepositoryFindByID(t *testing.T) {
	conn := sqlitetest.Open(t)
	tree := sqlitetest.SeedTree(t, conn, 1000, 10000, enums.TreeStatusProductive)
	repo := NewRepository(conn)

	got, err := repo.FindByID(context.Background(), tree.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1000), got.MinInvestmentCents)
	assert.Equal(t, int64(10000), got.MaxInvestmentCents)
	assert.Equal(t, enums.TreeStatusProductive, got.Status)

	missing, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryFindByIDs(t *testing.T) {
	conn := sqlitetest.Open(t)
	a := sqlitetest.SeedTree(t, conn, 100, 1000, enums.TreeStatusGrowing)
	b := sqlitetest.SeedTree(t, conn, 200, 2000, enums.TreeStatusRetired)
	repo := NewRepository(conn)

	got, err := repo.FindByIDs(context.Background(), []uuid.UUID{a.ID, b.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, a.Name, got[a.ID].Name)

	empty, err := repo.FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
