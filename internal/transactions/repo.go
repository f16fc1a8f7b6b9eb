package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

// Repository persists transactions. Finders return nil, nil when no row matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByExternalRefForUpdate(ctx context.Context, externalRef string) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	FindInFlightForInvestment(ctx context.Context, investmentID uuid.UUID) (*models.Transaction, error)
	FindLatestForInvestment(ctx context.Context, investmentID uuid.UUID, txnType enums.TransactionType) (*models.Transaction, error)
	ListForInvestment(ctx context.Context, investmentID uuid.UUID) ([]models.Transaction, error)
	ListUnattached(ctx context.Context, createdAfter, createdBefore time.Time, limit int) ([]models.Transaction, error)
	Update(ctx context.Context, txn *models.Transaction, fields ...string) error
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

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repository) FindByExternalRefForUpdate(ctx context.Context, externalRef string) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_ref = ?", externalRef))
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("idempotency_key = ?", key))
}

// FindInFlightForInvestment returns the newest open purchase or top-up. Pending
// refunds wait for manual settlement and do not count as a payment in flight.
func (r *repository) FindInFlightForInvestment(ctx context.Context, investmentID uuid.UUID) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).
		Where("investment_id = ? AND status IN ?", investmentID, enums.NonTerminalTransactionStatuses()).
		Where("type IN ?", enums.FundingTransactionTypes()).
		Order("created_at DESC"))
}

func (r *repository) FindLatestForInvestment(ctx context.Context, investmentID uuid.UUID, txnType enums.TransactionType) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).
		Where("investment_id = ? AND type = ?", investmentID, txnType).
		Order("created_at DESC"))
}

func (r *repository) ListForInvestment(ctx context.Context, investmentID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("investment_id = ?", investmentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListUnattached returns pending purchase and top-up rows that never received
// a processor reference.
func (r *repository) ListUnattached(ctx context.Context, createdAfter, createdBefore time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND external_ref IS NULL", enums.TransactionStatusPending).
		Where("type IN ?", enums.FundingTransactionTypes()).
		Where("created_at > ? AND created_at <= ?", createdAfter, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Update writes only the named columns of txn.
func (r *repository) Update(ctx context.Context, txn *models.Transaction, fields ...string) error {
	if txn == nil || txn.ID == uuid.Nil {
		return errors.New("transaction id required")
	}
	if len(fields) == 0 {
		return errors.New("update fields required")
	}
	fields = append(fields, "updated_at")
	return r.db.WithContext(ctx).Model(txn).Select(fields).Updates(txn).Error
}

func (r *repository) first(query *gorm.DB) (*models.Transaction, error) {
	var txn models.Transaction
	if err := query.First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}
