// Package investments owns the lifecycle of a user's stake in a tree, from the
// pending purchase through confirmation, top-ups, cancellation and maturity.
package investments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/internal/capacity"
	"github.com/ranggacaw/treevest-backend/internal/eligibility"
	"github.com/ranggacaw/treevest-backend/internal/paymentmethods"
	"github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/internal/trees"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/outbox"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/payloads"
	"github.com/ranggacaw/treevest-backend/pkg/pagination"
)

// Error reasons surfaced in coded error details.
const (
	ReasonInvalidAmount     = "INVALID_AMOUNT"
	ReasonNotCancellable    = "NOT_CANCELLABLE"
	ReasonPaymentInProgress = "PAYMENT_IN_PROGRESS"
	ReasonNotActive         = "INVESTMENT_NOT_ACTIVE"
	ReasonNotRetryable      = "PAYMENT_NOT_RETRYABLE"
	ReasonNotDeletable      = "NOT_DELETABLE"

	cancelReasonExpired = "expired"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type eligibilityGate interface {
	Check(ctx context.Context, userID, treeID uuid.UUID) (eligibility.Decision, error)
}

// Service is the investment ledger.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*PaymentResult, error)
	TopUp(ctx context.Context, input TopUpInput) (*PaymentResult, error)
	RetryPayment(ctx context.Context, input RetryInput) (*PaymentResult, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Investment, error)
	Mature(ctx context.Context, input MatureInput) (*models.Investment, error)
	Delete(ctx context.Context, userID, investmentID uuid.UUID) error
	Get(ctx context.Context, userID, investmentID uuid.UUID) (*Detail, error)
	List(ctx context.Context, input ListInput) (pagination.Page[models.Investment], error)
	ExpireStale(ctx context.Context, ttl time.Duration, limit int) (ExpireResult, error)
}

type ServiceParams struct {
	Tx             txRunner
	Repo           Repository
	Trees          trees.Repository
	Gate           eligibilityGate
	Transactions   transactions.Service
	PaymentMethods paymentmethods.Repository
	Outbox         outboxPublisher
	Logger         *logger.Logger
	Now            func() time.Time
}

type service struct {
	tx             txRunner
	repo           Repository
	trees          trees.Repository
	gate           eligibilityGate
	transactions   transactions.Service
	paymentMethods paymentmethods.Repository
	outbox         outboxPublisher
	logg           *logger.Logger
	now            func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "investment repository required")
	}
	if params.Trees == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tree repository required")
	}
	if params.Gate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "eligibility gate required")
	}
	if params.Transactions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction service required")
	}
	if params.PaymentMethods == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment method repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:             params.Tx,
		repo:           params.Repo,
		trees:          params.Trees,
		gate:           params.Gate,
		transactions:   params.Transactions,
		paymentMethods: params.PaymentMethods,
		outbox:         params.Outbox,
		logg:           params.Logger,
		now:            func() time.Time { return now().UTC() },
	}, nil
}

// Initiate creates a pending investment, its purchase transaction and the
// purchased event in one database transaction, then opens the processor
// intent. A replayed idempotency key resumes the original purchase.
func (s *service) Initiate(ctx context.Context, input InitiateInput) (*PaymentResult, error) {
	if input.UserID == uuid.Nil || input.TreeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and tree id required")
	}
	key := scopedKey("purchase", input.UserID, input.IdempotencyKey)
	if replayed, err := s.replay(ctx, key, input.AmountCents, func(txn *models.Transaction) bool {
		return txn.Type == enums.TransactionTypePurchase && metaTreeID(txn) == input.TreeID.String()
	}); replayed != nil || err != nil {
		return replayed, err
	}

	tree, err := s.checkEligible(ctx, input.UserID, input.TreeID)
	if err != nil {
		return nil, err
	}
	if violation := capacity.ValidatePurchase(boundsOf(tree), input.AmountCents); violation != nil {
		return nil, invalidAmount(violation)
	}
	pmID, err := s.resolvePaymentMethod(ctx, input.UserID, input.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	var (
		inv *models.Investment
		txn *models.Transaction
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		inv = &models.Investment{
			UserID:      input.UserID,
			TreeID:      tree.ID,
			AmountCents: input.AmountCents,
			Currency:    tree.Currency,
			Status:      enums.InvestmentStatusPendingPayment,
			PurchasedAt: now,
		}
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, inv); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create investment")
		}

		var err error
		txn, err = s.transactions.Reserve(ctx, tx, transactions.ReserveInput{
			UserID:          input.UserID,
			InvestmentID:    &inv.ID,
			Type:            enums.TransactionTypePurchase,
			AmountCents:     input.AmountCents,
			Currency:        tree.Currency,
			PaymentMethodID: pmID,
			IdempotencyKey:  key,
			Metadata:        treeMetadata(tree),
		})
		if err != nil {
			return err
		}
		inv.TransactionID = &txn.ID
		if err := repo.Update(ctx, inv, "transaction_id"); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link purchase transaction")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvestmentPurchased,
			AggregateType: enums.AggregateInvestment,
			AggregateID:   inv.ID,
			Actor:         outbox.UserActor(input.UserID, string(enums.UserRoleInvestor)),
			Data: payloads.InvestmentPurchasedEvent{
				InvestmentRef: refFor(inv, tree),
				TransactionID: txn.ID,
				Money:         payloads.NewMoney(inv.AmountCents, inv.Currency),
				PurchasedAt:   now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logInfo(s.logCtx(ctx, inv), "investment initiated")
	return s.open(ctx, inv, txn)
}

// TopUp reserves an additional payment for an active investment. The amount
// is only added once the processor confirms the payment.
func (s *service) TopUp(ctx context.Context, input TopUpInput) (*PaymentResult, error) {
	key := scopedKey("top_up", input.UserID, input.IdempotencyKey)
	if replayed, err := s.replay(ctx, key, input.ExtraCents, func(txn *models.Transaction) bool {
		return txn.Type == enums.TransactionTypeTopUp && txn.InvestmentID != nil && *txn.InvestmentID == input.InvestmentID
	}); replayed != nil || err != nil {
		return replayed, err
	}

	inv, err := s.findForUser(ctx, input.UserID, input.InvestmentID)
	if err != nil {
		return nil, err
	}
	if inv.Status != enums.InvestmentStatusActive {
		return nil, notActive(inv.Status)
	}
	tree, err := s.checkEligible(ctx, input.UserID, inv.TreeID)
	if err != nil {
		return nil, err
	}
	pmID, err := s.resolvePaymentMethod(ctx, input.UserID, input.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.InvestmentStatusActive {
			return notActive(locked.Status)
		}
		if err := s.ensureNoPaymentInFlight(ctx, tx, locked.ID); err != nil {
			return err
		}
		if violation := capacity.ValidateTopUp(boundsOf(tree), locked.AmountCents, input.ExtraCents); violation != nil {
			return invalidAmount(violation)
		}
		txn, err = s.transactions.Reserve(ctx, tx, transactions.ReserveInput{
			UserID:          input.UserID,
			InvestmentID:    &locked.ID,
			Type:            enums.TransactionTypeTopUp,
			AmountCents:     input.ExtraCents,
			Currency:        locked.Currency,
			PaymentMethodID: pmID,
			IdempotencyKey:  key,
			Metadata:        treeMetadata(tree),
		})
		inv = locked
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.open(ctx, inv, txn)
}

// RetryPayment replaces a failed or cancelled purchase payment on a pending
// investment with a fresh one.
func (s *service) RetryPayment(ctx context.Context, input RetryInput) (*PaymentResult, error) {
	key := scopedKey("retry", input.UserID, input.IdempotencyKey)
	if replayed, err := s.replay(ctx, key, 0, func(txn *models.Transaction) bool {
		return txn.Type == enums.TransactionTypePurchase && txn.InvestmentID != nil && *txn.InvestmentID == input.InvestmentID
	}); replayed != nil || err != nil {
		return replayed, err
	}

	inv, err := s.findForUser(ctx, input.UserID, input.InvestmentID)
	if err != nil {
		return nil, err
	}
	if inv.Status != enums.InvestmentStatusPendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "investment is not awaiting payment").
			WithReason(ReasonNotRetryable, map[string]any{"status": string(inv.Status)})
	}
	tree, err := s.checkEligible(ctx, input.UserID, inv.TreeID)
	if err != nil {
		return nil, err
	}
	pmID, err := s.resolvePaymentMethod(ctx, input.UserID, input.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.InvestmentStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "investment is not awaiting payment").
				WithReason(ReasonNotRetryable, map[string]any{"status": string(locked.Status)})
		}
		if err := s.ensureNoPaymentInFlight(ctx, tx, locked.ID); err != nil {
			return err
		}
		meta := treeMetadata(tree)
		previous, err := s.transactions.LatestForInvestment(ctx, tx, locked.ID, enums.TransactionTypePurchase)
		if err != nil {
			return err
		}
		if previous != nil {
			meta[transactions.MetaRetryOf] = previous.ID.String()
		}
		txn, err = s.transactions.Reserve(ctx, tx, transactions.ReserveInput{
			UserID:          input.UserID,
			InvestmentID:    &locked.ID,
			Type:            enums.TransactionTypePurchase,
			AmountCents:     locked.AmountCents,
			Currency:        locked.Currency,
			PaymentMethodID: pmID,
			IdempotencyKey:  key,
			Metadata:        meta,
		})
		if err != nil {
			return err
		}
		locked.TransactionID = &txn.ID
		if err := s.repo.WithTx(tx).Update(ctx, locked, "transaction_id"); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link retry transaction")
		}
		inv = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.open(ctx, inv, txn)
}

// Cancel releases a pending purchase or opens a refund for an active
// investment. It is rejected while a top-up payment is in flight.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Investment, error) {
	inv, err := s.findForUser(ctx, input.UserID, input.InvestmentID)
	if err != nil {
		return nil, err
	}
	actor := outbox.UserActor(input.UserID, string(enums.UserRoleInvestor))
	switch inv.Status {
	case enums.InvestmentStatusPendingPayment:
		return s.cancelPending(ctx, inv, input.Reason, actor)
	case enums.InvestmentStatusActive:
		return s.cancelActive(ctx, inv, input.Reason, actor)
	default:
		return nil, notCancellable(inv.Status)
	}
}

func (s *service) cancelPending(ctx context.Context, inv *models.Investment, reason string, actor *outbox.ActorRef) (*models.Investment, error) {
	inflight, err := s.transactions.InFlightForInvestment(ctx, nil, inv.ID)
	if err != nil {
		return nil, err
	}
	if inflight != nil {
		if err := s.transactions.ReleaseIntent(ctx, inflight.ID); err != nil {
			return nil, err
		}
	}

	var cancelled *models.Investment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.InvestmentStatusPendingPayment {
			return notCancellable(locked.Status)
		}
		current, err := s.transactions.InFlightForInvestment(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		if current != nil {
			if _, err := s.transactions.Cancel(ctx, tx, current.ID, reason); err != nil {
				return err
			}
		}
		if err := s.markCancelled(ctx, tx, locked, reason, nil, actor); err != nil {
			return err
		}
		cancelled = locked
		return nil
	})
	return cancelled, err
}

func (s *service) cancelActive(ctx context.Context, inv *models.Investment, reason string, actor *outbox.ActorRef) (*models.Investment, error) {
	var cancelled *models.Investment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.InvestmentStatusActive {
			return notCancellable(locked.Status)
		}
		inflight, err := s.transactions.InFlightForInvestment(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		if inflight != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "a payment for this investment is still in progress").
				WithReason(ReasonNotCancellable, map[string]any{
					"status":         string(locked.Status),
					"transaction_id": inflight.ID.String(),
					"blocked_by":     ReasonPaymentInProgress,
				})
		}
		meta := map[string]any{transactions.MetaTreeID: locked.TreeID.String()}
		if reason != "" {
			meta[transactions.MetaCancelReason] = reason
		}
		refund, err := s.transactions.Reserve(ctx, tx, transactions.ReserveInput{
			UserID:         locked.UserID,
			InvestmentID:   &locked.ID,
			Type:           enums.TransactionTypeRefund,
			AmountCents:    locked.AmountCents,
			Currency:       locked.Currency,
			IdempotencyKey: fmt.Sprintf("refund:%s", locked.ID),
			Metadata:       meta,
		})
		if err != nil {
			return err
		}
		if err := s.markCancelled(ctx, tx, locked, reason, &refund.ID, actor); err != nil {
			return err
		}
		cancelled = locked
		return nil
	})
	return cancelled, err
}

func (s *service) markCancelled(ctx context.Context, tx *gorm.DB, inv *models.Investment, reason string, refundID *uuid.UUID, actor *outbox.ActorRef) error {
	previous := inv.Status
	now := s.now()
	inv.Status = enums.InvestmentStatusCancelled
	inv.CancelledAt = &now
	fields := []string{"status", "cancelled_at"}
	if reason != "" {
		r := reason
		inv.CancelReason = &r
		fields = append(fields, "cancel_reason")
	}
	if err := s.repo.WithTx(tx).Update(ctx, inv, fields...); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel investment")
	}
	tree, err := s.trees.WithTx(tx).FindByID(ctx, inv.TreeID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tree")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvestmentCancelled,
		AggregateType: enums.AggregateInvestment,
		AggregateID:   inv.ID,
		Actor:         actor,
		Data: payloads.InvestmentCancelledEvent{
			InvestmentRef:       refFor(inv, tree),
			Money:               payloads.NewMoney(inv.AmountCents, inv.Currency),
			PreviousStatus:      previous,
			Reason:              reason,
			RefundTransactionID: refundID,
			CancelledAt:         now,
		},
		OccurredAt: now,
	})
}

// Mature closes an active investment at harvest. Admin only.
func (s *service) Mature(ctx context.Context, input MatureInput) (*models.Investment, error) {
	var matured *models.Investment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		inv, err := s.lock(ctx, tx, input.InvestmentID)
		if err != nil {
			return err
		}
		if !inv.Status.CanTransitionTo(enums.InvestmentStatusMatured) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only active investments can mature").
				WithReason(ReasonNotActive, map[string]any{"status": string(inv.Status)})
		}
		if err := s.ensureNoPaymentInFlight(ctx, tx, inv.ID); err != nil {
			return err
		}
		now := s.now()
		inv.Status = enums.InvestmentStatusMatured
		inv.MaturedAt = &now
		if err := s.repo.WithTx(tx).Update(ctx, inv, "status", "matured_at"); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mature investment")
		}
		tree, err := s.trees.WithTx(tx).FindByID(ctx, inv.TreeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tree")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvestmentMatured,
			AggregateType: enums.AggregateInvestment,
			AggregateID:   inv.ID,
			Actor:         outbox.UserActor(input.AdminID, string(enums.UserRoleAdmin)),
			Data: payloads.InvestmentMaturedEvent{
				InvestmentRef: refFor(inv, tree),
				Money:         payloads.NewMoney(inv.AmountCents, inv.Currency),
				MaturedAt:     now,
			},
			OccurredAt: now,
		}); err != nil {
			return err
		}
		matured = inv
		return nil
	})
	return matured, err
}

// Delete soft-deletes a terminal investment with no payment still in flight.
func (s *service) Delete(ctx context.Context, userID, investmentID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		inv, err := repo.FindByIDForUpdate(ctx, investmentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock investment")
		}
		if inv == nil || inv.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "investment not found")
		}
		if !inv.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only cancelled or matured investments can be deleted").
				WithReason(ReasonNotDeletable, map[string]any{"status": string(inv.Status)})
		}
		inflight, err := s.transactions.InFlightForInvestment(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if inflight != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "a payment for this investment is still in progress").
				WithReason(ReasonNotDeletable, map[string]any{"transaction_id": inflight.ID.String()})
		}
		if err := repo.SoftDelete(ctx, inv.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete investment")
		}
		return nil
	})
}

func (s *service) Get(ctx context.Context, userID, investmentID uuid.UUID) (*Detail, error) {
	inv, err := s.findForUser(ctx, userID, investmentID)
	if err != nil {
		return nil, err
	}
	txns, err := s.transactions.ListForInvestment(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Investment: inv, Transactions: txns}, nil
}

func (s *service) List(ctx context.Context, input ListInput) (pagination.Page[models.Investment], error) {
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return pagination.Page[models.Investment]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	params := listParams{UserID: input.UserID, Limit: input.Limit, Cursor: cursor}
	if status := strings.TrimSpace(input.Status); status != "" {
		parsed, err := enums.ParseInvestmentStatus(status)
		if err != nil {
			return pagination.Page[models.Investment]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		params.Status = &parsed
	}
	rows, next, err := s.repo.ListForUser(ctx, params)
	if err != nil {
		return pagination.Page[models.Investment]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list investments")
	}
	return pagination.NewPage(rows, next), nil
}

// ExpireStale cancels pending_payment investments older than ttl whose last
// payment attempt ended without a capture. A zero ttl disables expiry.
// Investments with an open payment are never touched, so no intent is
// cancelled at the processor.
func (s *service) ExpireStale(ctx context.Context, ttl time.Duration, limit int) (ExpireResult, error) {
	if ttl <= 0 {
		return ExpireResult{}, nil
	}
	rows, err := s.repo.ListStalePending(ctx, s.now().Add(-ttl), limit)
	if err != nil {
		return ExpireResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale investments")
	}

	result := ExpireResult{Scanned: len(rows)}
	actor := outbox.SystemActor("expiry")
	var errs error
	for i := range rows {
		inv := &rows[i]
		if err := s.expire(ctx, inv.ID, actor); err != nil {
			if typed := pkgerrors.As(err); typed != nil && (typed.Reason() == ReasonNotCancellable || typed.Reason() == ReasonPaymentInProgress) {
				result.Skipped++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("investment %s: %w", inv.ID, err))
			continue
		}
		result.Expired++
	}
	if result.Expired > 0 && s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"expired": result.Expired,
			"skipped": result.Skipped,
		}), "expired stale pending investments")
	}
	return result, errs
}

// expire cancels one stale investment, re-checking under the row lock that
// it is still unpaid and that no retry opened a payment since it was listed.
func (s *service) expire(ctx context.Context, investmentID uuid.UUID, actor *outbox.ActorRef) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lock(ctx, tx, investmentID)
		if err != nil {
			return err
		}
		if locked.Status != enums.InvestmentStatusPendingPayment {
			return notCancellable(locked.Status)
		}
		if err := s.ensureNoPaymentInFlight(ctx, tx, locked.ID); err != nil {
			return err
		}
		return s.markCancelled(ctx, tx, locked, cancelReasonExpired, nil, actor)
	})
}

// replay resumes the operation recorded under key. It returns nil, nil when
// the key is new. A positive amount must match the stored transaction.
func (s *service) replay(ctx context.Context, key string, amountCents int64, matches func(*models.Transaction) bool) (*PaymentResult, error) {
	if key == "" {
		return nil, nil
	}
	txn, err := s.transactions.FindByIdempotencyKey(ctx, nil, key)
	if err != nil || txn == nil {
		return nil, err
	}
	if !matches(txn) || (amountCents > 0 && txn.AmountCents != amountCents) || txn.InvestmentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different request")
	}
	inv, err := s.repo.FindByID(ctx, *txn.InvestmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load investment")
	}
	if inv == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "investment not found")
	}
	return s.open(ctx, inv, txn)
}

func (s *service) open(ctx context.Context, inv *models.Investment, txn *models.Transaction) (*PaymentResult, error) {
	opened, err := s.transactions.Open(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Investment: inv, Transaction: opened.Transaction, ClientSecret: opened.ClientSecret}, nil
}

func (s *service) checkEligible(ctx context.Context, userID, treeID uuid.UUID) (*models.Tree, error) {
	decision, err := s.gate.Check(ctx, userID, treeID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed() {
		return nil, decision.Err()
	}
	return decision.Tree, nil
}

// resolvePaymentMethod returns the requested method or the user's default.
// No method at all is allowed; the client then collects one against the intent.
func (s *service) resolvePaymentMethod(ctx context.Context, userID uuid.UUID, requested *uuid.UUID) (*uuid.UUID, error) {
	if requested != nil {
		pm, err := s.paymentMethods.FindForUser(ctx, userID, *requested)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
		}
		if pm == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method not found")
		}
		return &pm.ID, nil
	}
	pm, err := s.paymentMethods.FindDefault(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load default payment method")
	}
	if pm == nil {
		return nil, nil
	}
	return &pm.ID, nil
}

func (s *service) findForUser(ctx context.Context, userID, investmentID uuid.UUID) (*models.Investment, error) {
	inv, err := s.repo.FindForUser(ctx, userID, investmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load investment")
	}
	if inv == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "investment not found")
	}
	return inv, nil
}

func (s *service) lock(ctx context.Context, tx *gorm.DB, investmentID uuid.UUID) (*models.Investment, error) {
	inv, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, investmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock investment")
	}
	if inv == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "investment not found")
	}
	return inv, nil
}

func (s *service) ensureNoPaymentInFlight(ctx context.Context, tx *gorm.DB, investmentID uuid.UUID) error {
	inflight, err := s.transactions.InFlightForInvestment(ctx, tx, investmentID)
	if err != nil {
		return err
	}
	if inflight != nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "a payment for this investment is still in progress").
			WithReason(ReasonPaymentInProgress, map[string]any{
				"transaction_id": inflight.ID.String(),
				"type":           string(inflight.Type),
			})
	}
	return nil
}

func (s *service) logCtx(ctx context.Context, inv *models.Investment) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithInvestmentID(ctx, inv.ID.String())
	return s.logg.WithUserID(ctx, inv.UserID.String())
}

func (s *service) logInfo(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

// scopedKey namespaces a client idempotency key by operation and user so two
// users can never collide on the ledger's unique key.
func scopedKey(op string, userID uuid.UUID, clientKey string) string {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", op, userID, clientKey)
}

func treeMetadata(tree *models.Tree) map[string]any {
	return map[string]any{
		transactions.MetaTreeID:   tree.ID.String(),
		transactions.MetaTreeName: tree.Name,
	}
}

func metaTreeID(txn *models.Transaction) string {
	if txn.Metadata == nil {
		return ""
	}
	v, _ := txn.Metadata[transactions.MetaTreeID].(string)
	return v
}

func invalidAmount(v *capacity.Violation) error {
	return pkgerrors.New(pkgerrors.CodeValidation, v.Error()).WithReason(ReasonInvalidAmount, v.Details())
}

func notActive(status enums.InvestmentStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "investment is not active").
		WithReason(ReasonNotActive, map[string]any{"status": string(status)})
}

func notCancellable(status enums.InvestmentStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "investment can no longer be cancelled").
		WithReason(ReasonNotCancellable, map[string]any{"status": string(status)})
}
