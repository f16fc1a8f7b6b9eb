package investments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	"github.com/ranggacaw/treevest-backend/pkg/pagination"
)

// Repository persists investments. Finders return nil, nil when no row matches
// and never see soft-deleted rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, inv *models.Investment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	FindForUser(ctx context.Context, userID, id uuid.UUID) (*models.Investment, error)
	ListForUser(ctx context.Context, params listParams) ([]models.Investment, *pagination.Cursor, error)
	ListStalePending(ctx context.Context, purchasedBefore time.Time, limit int) ([]models.Investment, error)
	Update(ctx context.Context, inv *models.Investment, fields ...string) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type listParams struct {
	UserID uuid.UUID
	Status *enums.InvestmentStatus
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, inv *models.Investment) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repository) FindForUser(ctx context.Context, userID, id uuid.UUID) (*models.Investment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID))
}

func (r *repository) ListForUser(ctx context.Context, params listParams) ([]models.Investment, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Investment{}).Where("user_id = ?", params.UserID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Investment
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(inv models.Investment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: inv.CreatedAt, ID: inv.ID}
	})
	return rows, next, nil
}

// ListStalePending returns pending_payment investments purchased before the
// cutoff with no open purchase or top-up, oldest first.
func (r *repository) ListStalePending(ctx context.Context, purchasedBefore time.Time, limit int) ([]models.Investment, error) {
	inFlight := r.db.Model(&models.Transaction{}).
		Select("1").
		Where("transactions.investment_id = investments.id").
		Where("transactions.status IN ?", enums.NonTerminalTransactionStatuses()).
		Where("transactions.type IN ?", enums.FundingTransactionTypes())
	var rows []models.Investment
	err := r.db.WithContext(ctx).
		Where("status = ? AND purchased_at < ?", enums.InvestmentStatusPendingPayment, purchasedBefore).
		Where("NOT EXISTS (?)", inFlight).
		Order("purchased_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Update writes only the named columns plus updated_at.
func (r *repository) Update(ctx context.Context, inv *models.Investment, fields ...string) error {
	columns := append(append([]string{}, fields...), "updated_at")
	return r.db.WithContext(ctx).Model(inv).Select(columns).Updates(inv).Error
}

func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Investment{}).Error
}

func (r *repository) first(query *gorm.DB) (*models.Investment, error) {
	var inv models.Investment
	if err := query.First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}
