// Package engine assembles the investment and payment ledgers so every binary
// shares one dependency graph.
package engine

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/internal/eligibility"
	"github.com/ranggacaw/treevest-backend/internal/investments"
	"github.com/ranggacaw/treevest-backend/internal/kyc"
	"github.com/ranggacaw/treevest-backend/internal/paymentmethods"
	"github.com/ranggacaw/treevest-backend/internal/payments"
	"github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/internal/trees"
	stripewebhook "github.com/ranggacaw/treevest-backend/internal/webhooks/stripe"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/metrics"
	"github.com/ranggacaw/treevest-backend/pkg/outbox"
)

// Database is satisfied by *db.Client.
type Database interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Params struct {
	DB             Database
	Gateway        payments.Gateway
	Recent         *stripewebhook.RecentEvents
	WebhookMetrics *metrics.WebhookMetrics
	Logger         *logger.Logger
	Now            func() time.Time
}

// Engine holds the wired ledgers and the webhook ingestor.
type Engine struct {
	Investments  investments.Service
	Transactions transactions.Service
	Webhooks     *stripewebhook.Service
	Inbox        stripewebhook.InboxRepository
	Events       stripewebhook.EventRepository
	Outbox       *outbox.Repository
}

// New builds the graph in dependency order: the settler needs only
// repositories, the transaction ledger needs the settler, and the investment
// ledger needs the transaction ledger.
func New(params Params) (*Engine, error) {
	if params.DB == nil {
		return nil, errors.New("database is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	conn := params.DB.DB()

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, params.Logger)
	treeRepo := trees.NewRepository(conn)
	txnRepo := transactions.NewRepository(conn)
	methods := paymentmethods.NewRepository(conn)

	settler, err := investments.NewSettler(investments.SettlerParams{
		Repo:         investments.NewRepository(conn),
		Trees:        treeRepo,
		Transactions: txnRepo,
		Outbox:       emitter,
		Logger:       params.Logger,
		Now:          params.Now,
	})
	if err != nil {
		return nil, err
	}

	txnService, err := transactions.NewService(transactions.ServiceParams{
		Tx:             params.DB,
		Repo:           txnRepo,
		PaymentMethods: methods,
		Gateway:        params.Gateway,
		Outbox:         emitter,
		Settler:        settler,
		Logger:         params.Logger,
		Now:            params.Now,
	})
	if err != nil {
		return nil, err
	}

	gate, err := eligibility.NewGate(eligibility.GateParams{
		Trees: treeRepo,
		KYC:   kyc.NewRepository(conn),
		Now:   params.Now,
	})
	if err != nil {
		return nil, err
	}

	investmentService, err := investments.NewService(investments.ServiceParams{
		Tx:             params.DB,
		Repo:           investments.NewRepository(conn),
		Trees:          treeRepo,
		Gate:           gate,
		Transactions:   txnService,
		PaymentMethods: methods,
		Outbox:         emitter,
		Logger:         params.Logger,
		Now:            params.Now,
	})
	if err != nil {
		return nil, err
	}

	inbox := stripewebhook.NewInboxRepository(conn)
	events := stripewebhook.NewEventRepository(conn)
	webhooks, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		TransactionRunner: params.DB,
		Events:            events,
		Inbox:             inbox,
		Ledger:            txnService,
		Recent:            params.Recent,
		Metrics:           params.WebhookMetrics,
		Logger:            params.Logger,
		Now:               params.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		Investments:  investmentService,
		Transactions: txnService,
		Webhooks:     webhooks,
		Inbox:        inbox,
		Events:       events,
		Outbox:       outboxRepo,
	}, nil
}
