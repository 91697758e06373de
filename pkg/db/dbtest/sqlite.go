// Package dbtest opens isolated in-memory SQLite databases carrying the
// orchestration schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db"
)

// Open returns a client over a fresh database. The pool is pinned to one
// connection so concurrent callers serialize the way row locks would.
func Open(t *testing.T) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return db.FromGorm(conn)
}

var schema = []string{
	`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  name TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL CHECK (unit_price_cents >= 0),
  status TEXT NOT NULL,
  stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE customer_addresses (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  recipient_name TEXT NOT NULL,
  line1 TEXT NOT NULL,
  line2 TEXT,
  city TEXT NOT NULL,
  state TEXT NOT NULL,
  postal_code TEXT NOT NULL,
  country TEXT NOT NULL,
  phone TEXT,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  status TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  subtotal_cents INTEGER NOT NULL,
  shipping_cents INTEGER NOT NULL,
  discount_cents INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  shipping_address TEXT NOT NULL,
  external_session_id TEXT,
  external_payment_reference TEXT,
  paid_at DATETIME,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (total_cents = subtotal_cents + shipping_cents - discount_cents)
)`,
	`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  vendor_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  subtotal_cents INTEGER NOT NULL,
  status TEXT NOT NULL,
  tracking_number TEXT,
  shipped_at DATETIME,
  delivered_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (subtotal_cents = unit_price_cents * quantity)
)`,
	`CREATE INDEX idx_order_items_vendor_status ON order_items (vendor_id, status)`,
	`CREATE TABLE payment_intents (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  external_session_id TEXT NOT NULL UNIQUE,
  external_payment_reference TEXT,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  last_known_status TEXT NOT NULL,
  checkout_url TEXT NOT NULL,
  superseded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE UNIQUE INDEX ux_payment_intents_active_order ON payment_intents (order_id) WHERE superseded_at IS NULL`,
	`CREATE TABLE webhook_event_logs (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  external_event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  order_id TEXT,
  outcome TEXT NOT NULL,
  detail TEXT,
  received_at DATETIME NOT NULL
)`,
	`CREATE UNIQUE INDEX ux_webhook_event_logs_event ON webhook_event_logs (provider, external_event_id) WHERE outcome <> 'IGNORED_DUPLICATE'`,
	`CREATE TABLE vendor_accounts (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL UNIQUE,
  external_account_id TEXT,
  onboarding_status TEXT NOT NULL,
  charges_enabled INTEGER NOT NULL DEFAULT 0,
  payouts_enabled INTEGER NOT NULL DEFAULT 0,
  details_submitted INTEGER NOT NULL DEFAULT 0,
  disabled_reason TEXT,
  last_synced_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE payouts (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  gross_cents INTEGER NOT NULL,
  fee_cents INTEGER NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  external_transfer_id TEXT,
  failure_reason TEXT,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE payout_items (
  payout_id TEXT NOT NULL REFERENCES payouts(id),
  order_item_id TEXT NOT NULL REFERENCES order_items(id),
  order_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  PRIMARY KEY (payout_id, order_item_id)
)`,
	`CREATE TABLE ledger_events (
  id TEXT PRIMARY KEY,
  order_id TEXT,
  vendor_id TEXT,
  payout_id TEXT,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  metadata TEXT,
  created_at DATETIME
)`,
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
)`,
}
