// Package transactions owns the lifecycle of money movements and their
// correlation with processor payment intents.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/internal/paymentmethods"
	"github.com/ranggacaw/treevest-backend/internal/payments"
	dbpkg "github.com/ranggacaw/treevest-backend/pkg/db"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/outbox"
	"github.com/ranggacaw/treevest-backend/pkg/outbox/payloads"
)

// Error reasons surfaced in coded error details.
const (
	ReasonNotCancellable       = "NOT_CANCELLABLE"
	ReasonDuplicateExternalRef = "DUPLICATE_EXTERNAL_REF"
	ReasonNotRefund            = "NOT_A_REFUND"
	ReasonInvalidAmount        = "INVALID_AMOUNT"
	ReasonNotCollectable       = "NOT_COLLECTABLE"

	defaultFailureReason = "payment_failed"
)

// ErrUnknownIntent is returned when a processor event references no local transaction.
var ErrUnknownIntent = errors.New("unknown payment intent")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Settler applies the investment side of a completed transaction inside the
// same database transaction.
type Settler interface {
	OnTransactionCompleted(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error
}

// Service is the transaction ledger.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.Transaction, error)
	Open(ctx context.Context, transactionID uuid.UUID) (*OpenResult, error)
	ApplyProcessorEvent(ctx context.Context, tx *gorm.DB, event ProcessorEvent) (*ApplyResult, error)
	ReleaseIntent(ctx context.Context, transactionID uuid.UUID) error
	Cancel(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, reason string) (*models.Transaction, error)
	SettleRefund(ctx context.Context, input SettleRefundInput) (*models.Transaction, error)
	Get(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error)
	GetForUser(ctx context.Context, userID, transactionID uuid.UUID) (*models.Transaction, error)
	ListForInvestment(ctx context.Context, investmentID uuid.UUID) ([]models.Transaction, error)
	InFlightForInvestment(ctx context.Context, tx *gorm.DB, investmentID uuid.UUID) (*models.Transaction, error)
	LatestForInvestment(ctx context.Context, tx *gorm.DB, investmentID uuid.UUID, txnType enums.TransactionType) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*models.Transaction, error)
	ReconcileUnattached(ctx context.Context, minAge, maxAge time.Duration, limit int) (ReconcileResult, error)
}

type ServiceParams struct {
	Tx             txRunner
	Repo           Repository
	PaymentMethods paymentmethods.Repository
	Gateway        payments.Gateway
	Outbox         outboxPublisher
	Settler        Settler
	Logger         *logger.Logger
	Now            func() time.Time
}

type service struct {
	tx             txRunner
	repo           Repository
	paymentMethods paymentmethods.Repository
	gateway        payments.Gateway
	outbox         outboxPublisher
	settler        Settler
	logg           *logger.Logger
	now            func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.PaymentMethods == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment method repository required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Settler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settler required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:             params.Tx,
		repo:           params.Repo,
		paymentMethods: params.PaymentMethods,
		gateway:        params.Gateway,
		outbox:         params.Outbox,
		settler:        params.Settler,
		logg:           params.Logger,
		now:            func() time.Time { return now().UTC() },
	}, nil
}

// Reserve persists a pending transaction using tx. No processor call is made.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.Transaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	return ReserveWith(ctx, s.repo.WithTx(tx), input)
}

// ReserveWith validates input and inserts the pending row through repo.
// Replaying a key with the same reservation returns the stored row.
func ReserveWith(ctx context.Context, repo Repository, input ReserveInput) (*models.Transaction, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").
			WithReason(ReasonInvalidAmount, map[string]any{"amount_cents": input.AmountCents})
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}

	key := input.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	existing, err := repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction by idempotency key")
	}
	if existing != nil {
		if !sameReservation(existing, input) {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different transaction")
		}
		return existing, nil
	}

	meta := datatypes.JSONMap{}
	for k, v := range input.Metadata {
		meta[k] = v
	}
	meta[MetaType] = string(input.Type)

	txn := &models.Transaction{
		UserID:          input.UserID,
		InvestmentID:    input.InvestmentID,
		Type:            input.Type,
		Status:          enums.TransactionStatusPending,
		AmountCents:     input.AmountCents,
		Currency:        input.Currency,
		IdempotencyKey:  key,
		PaymentMethodID: input.PaymentMethodID,
		Metadata:        meta,
	}
	if err := repo.Create(ctx, txn); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "idempotency key already used")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}
	return txn, nil
}

// Open asks the gateway for an intent keyed by the stored idempotency key and
// attaches the returned reference. Replays return the same intent.
func (s *service) Open(ctx context.Context, transactionID uuid.UUID) (*OpenResult, error) {
	txn, err := s.repo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if !txn.Type.FundsInvestment() {
		return nil, notCollectable(txn.Type)
	}
	if txn.Status != enums.TransactionStatusPending {
		return &OpenResult{Transaction: txn}, nil
	}

	ctx = s.logCtx(ctx, txn)
	input, err := s.intentInput(ctx, txn)
	if err != nil {
		return nil, err
	}
	intent, err := s.gateway.CreateIntent(ctx, input)
	if err != nil {
		if payments.IsDeclined(err) {
			if failErr := s.failDeclined(ctx, txn.ID, err); failErr != nil {
				s.logError(ctx, "record declined payment intent", failErr)
			}
			return nil, err
		}
		s.logWarn(ctx, "payment intent outcome unknown, transaction left pending")
		return nil, err
	}

	attached, err := s.attachExternalRef(ctx, txn.ID, intent.ExternalRef)
	if err != nil {
		return nil, err
	}
	return &OpenResult{Transaction: attached, ClientSecret: intent.ClientSecret}, nil
}

func (s *service) attachExternalRef(ctx context.Context, transactionID uuid.UUID, externalRef string) (*models.Transaction, error) {
	var attached *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, transactionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
		}
		if locked == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		if locked.ExternalRef != nil {
			if *locked.ExternalRef != externalRef {
				return pkgerrors.New(pkgerrors.CodeConflict, "transaction already bound to another intent").
					WithReason(ReasonDuplicateExternalRef)
			}
			attached = locked
			return nil
		}
		if err := setExternalRef(ctx, repo, locked, externalRef); err != nil {
			return err
		}
		attached = locked
		return nil
	})
	return attached, err
}

func setExternalRef(ctx context.Context, repo Repository, txn *models.Transaction, externalRef string) error {
	ref := externalRef
	txn.ExternalRef = &ref
	if err := repo.Update(ctx, txn, "external_ref"); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "external reference already attached to another transaction").
				WithReason(ReasonDuplicateExternalRef)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach external reference")
	}
	return nil
}

func (s *service) failDeclined(ctx context.Context, transactionID uuid.UUID, cause error) error {
	reason := defaultFailureReason
	if typed := pkgerrors.As(cause); typed != nil && typed.Message() != "" {
		reason = typed.Message()
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if locked == nil || locked.Status != enums.TransactionStatusPending {
			return nil
		}
		return s.markFailed(ctx, tx, repo, locked, reason, nil)
	})
}

func (s *service) markFailed(ctx context.Context, tx *gorm.DB, repo Repository, txn *models.Transaction, reason string, raw []byte) error {
	now := s.now()
	txn.Status = enums.TransactionStatusFailed
	txn.FailureReason = &reason
	txn.FailedAt = &now
	fields := []string{"status", "failure_reason", "failed_at"}
	if len(raw) > 0 {
		txn.ProviderMetadata = datatypes.JSON(raw)
		fields = append(fields, "provider_metadata")
	}
	if err := repo.Update(ctx, txn, fields...); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction failed")
	}

	event := payloads.PaymentFailedEvent{
		TransactionID:   txn.ID,
		InvestmentID:    txn.InvestmentID,
		UserID:          txn.UserID,
		TreeID:          metaUUID(txn.Metadata, MetaTreeID),
		TreeName:        metaString(txn.Metadata, MetaTreeName),
		TransactionType: txn.Type,
		Money:           payloads.NewMoney(txn.AmountCents, txn.Currency),
		FailureReason:   reason,
		FailedAt:        now,
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Actor:         outbox.SystemActor("payment_processor"),
		Data:          event,
		OccurredAt:    now,
	})
}

// ApplyProcessorEvent moves the transaction forward for one processor outcome.
// Terminal transactions are left untouched.
func (s *service) ApplyProcessorEvent(ctx context.Context, tx *gorm.DB, event ProcessorEvent) (*ApplyResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if event.IntentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent reference required")
	}

	repo := s.repo.WithTx(tx)
	txn, err := repo.FindByExternalRefForUpdate(ctx, event.IntentRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction by external reference")
	}
	if txn == nil && event.TransactionID != nil {
		txn, err = repo.FindByIDForUpdate(ctx, *event.TransactionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction by id")
		}
		if txn != nil {
			if txn.ExternalRef != nil {
				return nil, ErrUnknownIntent
			}
			if err := setExternalRef(ctx, repo, txn, event.IntentRef); err != nil {
				return nil, err
			}
		}
	}
	if txn == nil {
		return nil, ErrUnknownIntent
	}
	if txn.Status.IsTerminal() {
		return &ApplyResult{Transaction: txn}, nil
	}

	now := s.now()
	switch event.Outcome {
	case OutcomeProcessing:
		if txn.Status != enums.TransactionStatusPending {
			return &ApplyResult{Transaction: txn}, nil
		}
		txn.Status = enums.TransactionStatusProcessing
		if err := repo.Update(ctx, txn, "status"); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction processing")
		}
	case OutcomeSucceeded:
		txn.Status = enums.TransactionStatusCompleted
		txn.CompletedAt = &now
		fields := []string{"status", "completed_at"}
		if len(event.RawMetadata) > 0 {
			txn.ProviderMetadata = datatypes.JSON(event.RawMetadata)
			fields = append(fields, "provider_metadata")
		}
		if err := repo.Update(ctx, txn, fields...); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction completed")
		}
		if txn.InvestmentID != nil && txn.Type.FundsInvestment() {
			if err := s.settler.OnTransactionCompleted(ctx, tx, txn); err != nil {
				return nil, err
			}
		}
	case OutcomeFailed:
		reason := event.FailureReason
		if reason == "" {
			reason = defaultFailureReason
		}
		if err := s.markFailed(ctx, tx, repo, txn, reason, event.RawMetadata); err != nil {
			return nil, err
		}
	case OutcomeCanceled:
		txn.Status = enums.TransactionStatusCancelled
		txn.CancelledAt = &now
		if err := repo.Update(ctx, txn, "status", "cancelled_at"); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction cancelled")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported outcome %q", event.Outcome))
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logCtx(ctx, txn), map[string]any{
			"status":   string(txn.Status),
			"event_id": event.EventID,
		})
		s.logg.Info(logCtx, "transaction updated from processor event")
	}
	return &ApplyResult{Transaction: txn, Changed: true}, nil
}

// ReleaseIntent cancels the processor intent behind a non-terminal transaction.
// It fails NOT_CANCELLABLE when the processor already captured the payment.
func (s *service) ReleaseIntent(ctx context.Context, transactionID uuid.UUID) error {
	txn, err := s.repo.FindByID(ctx, transactionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if !txn.Type.FundsInvestment() {
		return notCollectable(txn.Type)
	}
	if txn.Status == enums.TransactionStatusCancelled || txn.Status == enums.TransactionStatusFailed {
		return nil
	}
	if txn.Status.IsTerminal() {
		return notCancellable(txn.Status)
	}
	ctx = s.logCtx(ctx, txn)

	var ref string
	if txn.ExternalRef != nil {
		ref = *txn.ExternalRef
	} else {
		input, err := s.intentInput(ctx, txn)
		if err != nil {
			return err
		}
		intent, err := s.gateway.CreateIntent(ctx, input)
		if err != nil {
			if payments.IsDeclined(err) {
				return nil
			}
			return err
		}
		if _, err := s.attachExternalRef(ctx, txn.ID, intent.ExternalRef); err != nil {
			return err
		}
		ref = intent.ExternalRef
	}

	_, err = s.gateway.CancelIntent(ctx, ref, "cancel-"+txn.IdempotencyKey)
	if err == nil {
		return nil
	}
	if !payments.IsDeclined(err) {
		return err
	}
	current, getErr := s.gateway.GetIntent(ctx, ref)
	if getErr != nil {
		return getErr
	}
	switch current.Status {
	case payments.IntentCanceled:
		return nil
	case payments.IntentSucceeded, payments.IntentProcessing, payments.IntentRequiresCapture:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already captured").
			WithReason(ReasonNotCancellable, map[string]any{"intent_status": string(current.Status)})
	default:
		return err
	}
}

// Cancel marks a pending or processing transaction cancelled inside tx.
func (s *service) Cancel(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, reason string) (*models.Transaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	txn, err := repo.FindByIDForUpdate(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if !txn.Status.CanTransitionTo(enums.TransactionStatusCancelled) {
		return nil, notCancellable(txn.Status)
	}
	now := s.now()
	txn.Status = enums.TransactionStatusCancelled
	txn.CancelledAt = &now
	meta := datatypes.JSONMap{}
	for k, v := range txn.Metadata {
		meta[k] = v
	}
	if reason != "" {
		meta[MetaCancelReason] = reason
	}
	txn.Metadata = meta
	if err := repo.Update(ctx, txn, "status", "cancelled_at", "metadata"); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel transaction")
	}
	return txn, nil
}

// SettleRefund completes a pending refund transaction. Settling twice is a no-op.
func (s *service) SettleRefund(ctx context.Context, input SettleRefundInput) (*models.Transaction, error) {
	var settled *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.FindByIDForUpdate(ctx, input.TransactionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
		}
		if txn == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		if txn.Type != enums.TransactionTypeRefund {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not a refund").
				WithReason(ReasonNotRefund, map[string]any{"type": string(txn.Type)})
		}
		if txn.Status == enums.TransactionStatusCompleted {
			settled = txn
			return nil
		}
		if !txn.Status.CanTransitionTo(enums.TransactionStatusCompleted) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund can no longer be settled").
				WithDetails(map[string]any{"status": string(txn.Status)})
		}

		now := s.now()
		txn.Status = enums.TransactionStatusCompleted
		txn.CompletedAt = &now
		fields := []string{"status", "completed_at"}
		if input.ExternalRef != "" && txn.ExternalRef == nil {
			ref := input.ExternalRef
			txn.ExternalRef = &ref
			fields = append(fields, "external_ref")
		}
		if err := repo.Update(ctx, txn, fields...); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "external reference already attached to another transaction").
					WithReason(ReasonDuplicateExternalRef)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle refund")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundSettled,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         outbox.UserActor(input.AdminID, string(enums.UserRoleAdmin)),
			Data: payloads.RefundSettledEvent{
				TransactionID: txn.ID,
				InvestmentID:  txn.InvestmentID,
				UserID:        txn.UserID,
				Money:         payloads.NewMoney(txn.AmountCents, txn.Currency),
				SettledAt:     now,
			},
			OccurredAt: now,
		}); err != nil {
			return err
		}
		settled = txn
		return nil
	})
	return settled, err
}

func (s *service) Get(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, nil
}

// GetForUser hides transactions owned by other users behind NOT_FOUND.
func (s *service) GetForUser(ctx context.Context, userID, transactionID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, nil
}

func (s *service) ListForInvestment(ctx context.Context, investmentID uuid.UUID) ([]models.Transaction, error) {
	rows, err := s.repo.ListForInvestment(ctx, investmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return rows, nil
}

func (s *service) InFlightForInvestment(ctx context.Context, tx *gorm.DB, investmentID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.WithTx(tx).FindInFlightForInvestment(ctx, investmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load in-flight transaction")
	}
	return txn, nil
}

func (s *service) LatestForInvestment(ctx context.Context, tx *gorm.DB, investmentID uuid.UUID, txnType enums.TransactionType) (*models.Transaction, error) {
	txn, err := s.repo.WithTx(tx).FindLatestForInvestment(ctx, investmentID, txnType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest transaction")
	}
	return txn, nil
}

func (s *service) FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*models.Transaction, error) {
	txn, err := s.repo.WithTx(tx).FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction by idempotency key")
	}
	return txn, nil
}

// ReconcileUnattached replays the stored idempotency key for pending rows that
// never received a processor reference, typically after a crash or timeout.
func (s *service) ReconcileUnattached(ctx context.Context, minAge, maxAge time.Duration, limit int) (ReconcileResult, error) {
	now := s.now()
	rows, err := s.repo.ListUnattached(ctx, now.Add(-maxAge), now.Add(-minAge), limit)
	if err != nil {
		return ReconcileResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unattached transactions")
	}

	result := ReconcileResult{Scanned: len(rows)}
	var errs error
	for _, row := range rows {
		opened, err := s.Open(ctx, row.ID)
		if err != nil {
			if payments.IsDeclined(err) {
				result.Failed++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("transaction %s: %w", row.ID, err))
			continue
		}
		if opened.Transaction != nil && opened.Transaction.ExternalRef != nil {
			result.Attached++
		}
	}
	return result, errs
}

func (s *service) intentInput(ctx context.Context, txn *models.Transaction) (payments.CreateIntentInput, error) {
	meta := map[string]string{
		MetaTransactionID: txn.ID.String(),
		MetaType:          string(txn.Type),
	}
	if txn.InvestmentID != nil {
		meta[MetaInvestmentID] = txn.InvestmentID.String()
	}
	if treeID := metaString(txn.Metadata, MetaTreeID); treeID != "" {
		meta[MetaTreeID] = treeID
	}
	input := payments.CreateIntentInput{
		IdempotencyKey: txn.IdempotencyKey,
		AmountCents:    txn.AmountCents,
		Currency:       string(txn.Currency),
		Description:    describe(txn),
		Metadata:       meta,
	}
	if txn.PaymentMethodID != nil {
		pm, err := s.paymentMethods.FindForUser(ctx, txn.UserID, *txn.PaymentMethodID)
		if err != nil {
			return payments.CreateIntentInput{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
		}
		if pm != nil {
			input.PaymentMethodExternal = pm.StripePaymentMethodID
			if pm.StripeCustomerID != nil {
				input.CustomerID = *pm.StripeCustomerID
			}
		}
	}
	return input, nil
}

func (s *service) logCtx(ctx context.Context, txn *models.Transaction) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())
	if txn.InvestmentID != nil {
		ctx = s.logg.WithInvestmentID(ctx, txn.InvestmentID.String())
	}
	return ctx
}

func (s *service) logWarn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func (s *service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}

func notCancellable(status enums.TransactionStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction can no longer be cancelled").
		WithReason(ReasonNotCancellable, map[string]any{"status": string(status)})
}

func notCollectable(txnType enums.TransactionType) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is not collected through a payment intent").
		WithReason(ReasonNotCollectable, map[string]any{"type": string(txnType)})
}

func sameReservation(existing *models.Transaction, input ReserveInput) bool {
	if existing.UserID != input.UserID || existing.Type != input.Type || existing.AmountCents != input.AmountCents {
		return false
	}
	if (existing.InvestmentID == nil) != (input.InvestmentID == nil) {
		return false
	}
	return existing.InvestmentID == nil || *existing.InvestmentID == *input.InvestmentID
}

func describe(txn *models.Transaction) string {
	name := metaString(txn.Metadata, MetaTreeName)
	switch txn.Type {
	case enums.TransactionTypePurchase:
		if name != "" {
			return "Tree investment: " + name
		}
		return "Tree investment"
	case enums.TransactionTypeTopUp:
		if name != "" {
			return "Investment top-up: " + name
		}
		return "Investment top-up"
	default:
		return string(txn.Type)
	}
}

func metaString(meta datatypes.JSONMap, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaUUID(meta datatypes.JSONMap, key string) *uuid.UUID {
	raw := metaString(meta, key)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
