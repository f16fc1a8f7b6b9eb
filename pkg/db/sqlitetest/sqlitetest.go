// Package sqlitetest provides an in-memory SQLite schema mirroring the Postgres
// migrations for repository and service tests.
package sqlitetest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  kyc_status TEXT NOT NULL DEFAULT 'none',
  kyc_verified_at DATETIME,
  kyc_expires_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE trees (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  min_investment_cents INTEGER NOT NULL,
  max_investment_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  status TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE payment_methods (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  stripe_payment_method_id TEXT NOT NULL UNIQUE,
  stripe_customer_id TEXT,
  is_default INTEGER NOT NULL DEFAULT 0,
  card_brand TEXT,
  card_last4 TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  investment_id TEXT,
  type TEXT NOT NULL,
  status TEXT NOT NULL,
  amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
  currency TEXT NOT NULL,
  idempotency_key TEXT NOT NULL UNIQUE,
  external_ref TEXT UNIQUE,
  payment_method_id TEXT,
  metadata TEXT,
  provider_metadata TEXT,
  failure_reason TEXT,
  completed_at DATETIME,
  failed_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE investments (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  tree_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
  currency TEXT NOT NULL,
  status TEXT NOT NULL,
  transaction_id TEXT UNIQUE,
  purchased_at DATETIME NOT NULL,
  confirmed_at DATETIME,
  cancelled_at DATETIME,
  matured_at DATETIME,
  cancel_reason TEXT,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
);`,
	`CREATE TABLE processed_webhook_events (
  event_id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  event_type TEXT NOT NULL,
  received_at DATETIME NOT NULL,
  processed_at DATETIME NOT NULL
);`,
	`CREATE TABLE webhook_inbox (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  available_at DATETIME NOT NULL,
  last_error TEXT,
  received_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns an isolated in-memory database with every table created.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:treevest_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// SeedUser inserts a user with the given KYC status and optional expiry.
func SeedUser(t testing.TB, conn *gorm.DB, status enums.KYCStatus, expiresAt *time.Time) models.User {
	t.Helper()
	user := models.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@treevest.test",
		KYCStatus:    status,
		KYCExpiresAt: expiresAt,
	}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedTree inserts a tree with the provided bounds and status.
func SeedTree(t testing.TB, conn *gorm.DB, minCents, maxCents int64, status enums.TreeStatus) models.Tree {
	t.Helper()
	tree := models.Tree{
		ID:                 uuid.New(),
		Name:               "Musang King Durian #" + uuid.NewString()[:4],
		PriceCents:         maxCents * 4,
		MinInvestmentCents: minCents,
		MaxInvestmentCents: maxCents,
		Currency:           enums.CurrencyUSD,
		Status:             status,
	}
	if err := conn.Create(&tree).Error; err != nil {
		t.Fatalf("seed tree: %v", err)
	}
	return tree
}

// SeedPaymentMethod inserts a saved card for the user.
func SeedPaymentMethod(t testing.TB, conn *gorm.DB, userID uuid.UUID, isDefault bool) models.PaymentMethod {
	t.Helper()
	pm := models.PaymentMethod{
		ID:                    uuid.New(),
		UserID:                userID,
		StripePaymentMethodID: "pm_" + uuid.NewString()[:8],
		IsDefault:             isDefault,
	}
	if err := conn.Create(&pm).Error; err != nil {
		t.Fatalf("seed payment method: %v", err)
	}
	return pm
}
