package migrate_test

import (
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	data, err := fs.ReadFile(migrate.Embedded(), filepath.Base(matches[0]))
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
	if err := migrate.Validate(migrate.Embedded()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
}

func TestEmbeddedMatchesDisk(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(onDisk) != len(embedded) {
		t.Fatalf("disk has %d migrations, binary embeds %d", len(onDisk), len(embedded))
	}
}

func TestMigrationsContainConstraints(t *testing.T) {
	cases := map[string][]string{
		"create_orders": {
			"CREATE TABLE IF NOT EXISTS orders",
			"CHECK (total_cents = subtotal_cents + shipping_cents - discount_cents)",
			"CHECK (subtotal_cents = unit_price_cents * quantity)",
			"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
			"DROP TABLE IF EXISTS orders",
		},
		"create_payment_tables": {
			"ux_payment_intents_active_order",
			"WHERE superseded_at IS NULL",
			"ux_webhook_event_logs_event",
			"DROP TABLE IF EXISTS webhook_event_logs",
		},
		"create_settlement_tables": {
			"CREATE TABLE IF NOT EXISTS payouts",
			"CHECK (amount_cents = gross_cents - fee_cents)",
			"PRIMARY KEY (payout_id, order_item_id)",
			"CREATE TABLE IF NOT EXISTS ledger_events",
		},
		"create_outbox_events": {
			"CREATE TABLE IF NOT EXISTS outbox_events",
			"WHERE published_at IS NULL",
		},
	}

	for suffix, checks := range cases {
		content := readMigration(t, suffix)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", suffix, sub)
			}
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Index!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestValidateRejectsBrokenSets(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"bad name": {
			"orders.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"duplicate version": {
			"20260301090000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20260301090000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"down before up": {
			"20260301090000_payouts.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")},
		},
		"unbalanced statement block": {
			"20260301090000_payouts.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n")},
		},
		"empty": {},
	}
	for name, fsys := range tests {
		if err := migrate.Validate(fsys); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
