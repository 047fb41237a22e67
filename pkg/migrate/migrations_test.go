package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/modoria-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matches %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestProductsMigrationGuardsStock(t *testing.T) {
	assertContains(t, readMigration(t, "*_create_products.sql"), []string{
		"CREATE TABLE IF NOT EXISTS products",
		"CREATE TABLE IF NOT EXISTS product_variants",
		"CHECK (quantity >= 0)",
		"CHECK (inventory_quantity >= 0)",
		"FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS product_variants",
	})
}

func TestOrdersMigrationEnforcesUniqueNumberAndTotals(t *testing.T) {
	assertContains(t, readMigration(t, "*_create_orders.sql"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_order_number ON orders (order_number)",
		"CHECK (total_amount = subtotal + tax_amount + shipping_amount - discount_amount)",
		"ship_postal_code text NOT NULL",
		"CREATE TABLE IF NOT EXISTS order_lines",
		"DROP TABLE IF EXISTS orders",
	})
}

func TestPaymentsMigrationLinksOneIntentPerOrder(t *testing.T) {
	assertContains(t, readMigration(t, "*_create_payments.sql"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_order_id ON payments (order_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_external_intent_id ON payments (external_intent_id)",
		"fk_orders_payment",
	})
}

func TestCouponsMigrationBoundsUsage(t *testing.T) {
	assertContains(t, readMigration(t, "*_create_coupons.sql"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_coupons_code ON coupons (code)",
		"CHECK (usage_limit IS NULL OR usage_count <= usage_limit)",
	})
}
