package investments

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/internal/capacity"
	"github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/internal/trees"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/outbox"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/payloads"
)

// Refund reasons recorded when captured money cannot be applied.
const (
	refundCapturedAfterCancel = "captured_after_cancel"
	refundExceedsCapacity     = "top_up_exceeds_capacity"
)

type SettlerParams struct {
	Repo         Repository
	Trees        trees.Repository
	Transactions transactions.Repository
	Outbox       outboxPublisher
	Logger       *logger.Logger
	Now          func() time.Time
}

// Settler applies completed purchase and top-up transactions to their
// investment inside the webhook's database transaction.
type Settler struct {
	repo         Repository
	trees        trees.Repository
	transactions transactions.Repository
	outbox       outboxPublisher
	logg         *logger.Logger
	now          func() time.Time
}

func NewSettler(params SettlerParams) (*Settler, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "investment repository required")
	}
	if params.Trees == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tree repository required")
	}
	if params.Transactions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Settler{
		repo:         params.Repo,
		trees:        params.Trees,
		transactions: params.Transactions,
		outbox:       params.Outbox,
		logg:         params.Logger,
		now:          func() time.Time { return now().UTC() },
	}, nil
}

// OnTransactionCompleted activates a purchased investment or adds a top-up to
// it. Replays against an already-applied transaction change nothing.
func (s *Settler) OnTransactionCompleted(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	if txn.InvestmentID == nil {
		return nil
	}
	repo := s.repo.WithTx(tx)
	inv, err := repo.FindByIDForUpdate(ctx, *txn.InvestmentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock investment")
	}
	if inv == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "investment not found").
			WithDetails(map[string]any{"investment_id": txn.InvestmentID.String()})
	}
	tree, err := s.trees.WithTx(tx).FindByID(ctx, inv.TreeID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tree")
	}
	if tree == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "tree not found")
	}

	switch txn.Type {
	case enums.TransactionTypePurchase:
		return s.confirmPurchase(ctx, tx, repo, inv, tree, txn)
	case enums.TransactionTypeTopUp:
		return s.applyTopUp(ctx, tx, repo, inv, tree, txn)
	default:
		return nil
	}
}

func (s *Settler) confirmPurchase(ctx context.Context, tx *gorm.DB, repo Repository, inv *models.Investment, tree *models.Tree, txn *models.Transaction) error {
	switch inv.Status {
	case enums.InvestmentStatusPendingPayment:
	case enums.InvestmentStatusCancelled:
		return s.refundCaptured(ctx, tx, inv, txn, refundCapturedAfterCancel)
	default:
		return nil
	}

	now := s.now()
	inv.Status = enums.InvestmentStatusActive
	inv.ConfirmedAt = &now
	inv.TransactionID = &txn.ID
	if err := repo.Update(ctx, inv, "status", "confirmed_at", "transaction_id"); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate investment")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvestmentConfirmed,
		AggregateType: enums.AggregateInvestment,
		AggregateID:   inv.ID,
		Actor:         outbox.SystemActor("payment_processor"),
		Data: payloads.InvestmentConfirmedEvent{
			InvestmentRef: refFor(inv, tree),
			TransactionID: txn.ID,
			Money:         payloads.NewMoney(inv.AmountCents, inv.Currency),
			ConfirmedAt:   now,
		},
		OccurredAt: now,
	})
}

func (s *Settler) applyTopUp(ctx context.Context, tx *gorm.DB, repo Repository, inv *models.Investment, tree *models.Tree, txn *models.Transaction) error {
	if inv.TransactionID != nil && *inv.TransactionID == txn.ID {
		return nil
	}
	if inv.Status != enums.InvestmentStatusActive {
		return s.refundCaptured(ctx, tx, inv, txn, refundCapturedAfterCancel)
	}
	if violation := capacity.ValidateTopUp(boundsOf(tree), inv.AmountCents, txn.AmountCents); violation != nil {
		return s.refundCaptured(ctx, tx, inv, txn, refundExceedsCapacity)
	}

	inv.AmountCents += txn.AmountCents
	inv.TransactionID = &txn.ID
	if err := repo.Update(ctx, inv, "amount_cents", "transaction_id"); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply top-up")
	}
	now := s.now()
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvestmentToppedUp,
		AggregateType: enums.AggregateInvestment,
		AggregateID:   inv.ID,
		Actor:         outbox.SystemActor("payment_processor"),
		Data: payloads.InvestmentToppedUpEvent{
			InvestmentRef: refFor(inv, tree),
			TransactionID: txn.ID,
			Added:         payloads.NewMoney(txn.AmountCents, txn.Currency),
			Total:         payloads.NewMoney(inv.AmountCents, inv.Currency),
		},
		OccurredAt: now,
	})
}

// refundCaptured opens a refund for money that was captured but cannot be
// applied to the investment. The key is derived from the captured transaction
// so webhook redelivery does not open a second refund.
func (s *Settler) refundCaptured(ctx context.Context, tx *gorm.DB, inv *models.Investment, txn *models.Transaction, reason string) error {
	_, err := transactions.ReserveWith(ctx, s.transactions.WithTx(tx), transactions.ReserveInput{
		UserID:         txn.UserID,
		InvestmentID:   &inv.ID,
		Type:           enums.TransactionTypeRefund,
		AmountCents:    txn.AmountCents,
		Currency:       txn.Currency,
		IdempotencyKey: fmt.Sprintf("refund:%s", txn.ID),
		Metadata: map[string]any{
			transactions.MetaTreeID:       inv.TreeID.String(),
			transactions.MetaCancelReason: reason,
			"refunds_transaction_id":      txn.ID.String(),
		},
	})
	if err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithInvestmentID(s.logg.WithTransactionID(ctx, txn.ID.String()), inv.ID.String())
		logCtx = s.logg.WithField(logCtx, "reason", reason)
		s.logg.Warn(logCtx, "captured payment could not be applied, refund opened")
	}
	return nil
}

func refFor(inv *models.Investment, tree *models.Tree) payloads.InvestmentRef {
	ref := payloads.InvestmentRef{InvestmentID: inv.ID, UserID: inv.UserID, TreeID: inv.TreeID}
	if tree != nil {
		ref.TreeName = tree.Name
	}
	return ref
}

func boundsOf(tree *models.Tree) capacity.Bounds {
	return capacity.Bounds{MinCents: tree.MinInvestmentCents, MaxCents: tree.MaxInvestmentCents}
}
