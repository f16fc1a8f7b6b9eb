// Package trees reads tree capacity facts owned by the farm subsystem.
package trees

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
)

// Repository exposes read-only access to trees.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tree, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Tree, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a tree repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByID returns nil when the tree does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tree, error) {
	var tree models.Tree
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tree).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tree, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Tree, error) {
	out := make(map[uuid.UUID]models.Tree, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Tree
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
