package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks ...string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPaymentsMigrationGuardsDuplicateSettlement(t *testing.T) {
	content := readMigration(t, "create_payments")
	assertContains(t, content,
		"CREATE TABLE IF NOT EXISTS payments",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_order ON payments (order_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_provider_ref ON payments (provider, provider_ref) WHERE provider <> 'wallet'",
		"CREATE TABLE IF NOT EXISTS refund_requests",
		"ux_refund_requests_one_pending",
		"DROP TABLE IF EXISTS payments",
	)
}

func TestWalletMigrationKeepsLedgerIdempotent(t *testing.T) {
	content := readMigration(t, "create_wallet")
	assertContains(t, content,
		"CREATE TABLE IF NOT EXISTS wallet_transactions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_wallet_transactions_reference",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_wallet_topups_provider_ref",
		"CHECK (balance_after >= 0)",
		"DROP TABLE IF EXISTS wallet_transactions",
	)
}

func TestStockAndBalanceCannotGoNegative(t *testing.T) {
	content := readMigration(t, "create_users_and_products")
	assertContains(t, content,
		"CHECK (wallet_balance >= 0)",
		"CHECK (quantity >= 0)",
	)
}

func TestOutboxMigrationDeduplicatesEvents(t *testing.T) {
	content := readMigration(t, "create_outbox_events")
	assertContains(t, content,
		"ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id)",
		"WHERE published_at IS NULL",
	)
}
