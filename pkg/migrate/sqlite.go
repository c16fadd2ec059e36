package migrate

import (
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the goose migrations for local sqlite runs and tests.
// Ids are always assigned by the application, so no uuid defaults are needed.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  phone TEXT,
  role TEXT NOT NULL DEFAULT 'buyer',
  address TEXT,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  image TEXT NOT NULL DEFAULT '',
  brand TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT '',
  price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
  count_in_stock INTEGER NOT NULL DEFAULT 0,
  sizes TEXT NOT NULL DEFAULT '{}',
  colors TEXT NOT NULL DEFAULT '{}',
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  shipping_address TEXT NOT NULL,
  payment_method TEXT NOT NULL DEFAULT 'paymob',
  currency TEXT NOT NULL,
  items_price_cents INTEGER NOT NULL,
  shipping_price_cents INTEGER NOT NULL,
  tax_price_cents INTEGER NOT NULL,
  total_price_cents INTEGER NOT NULL,
  is_paid INTEGER NOT NULL DEFAULT 0,
  paid_at DATETIME,
  payment_result TEXT,
  provider_transaction_id TEXT,
  provider_order_id TEXT,
  is_delivered INTEGER NOT NULL DEFAULT 0,
  delivered_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT chk_orders_paid_at CHECK (is_paid = 0 OR paid_at IS NOT NULL)
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_provider_transaction_id
  ON orders (provider_transaction_id) WHERE provider_transaction_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_orders_provider_order_id ON orders (provider_order_id)`,
	`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  image TEXT NOT NULL DEFAULT '',
  size TEXT NOT NULL DEFAULT '',
  color TEXT NOT NULL DEFAULT '',
  unit_price_cents INTEGER NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  line_total_cents INTEGER NOT NULL,
  created_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  provider_transaction_id TEXT,
  metadata TEXT,
  created_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  next_attempt_at DATETIME,
  last_error TEXT,
  terminal_at DATETIME
)`,
}

// ApplySQLite creates every table on a sqlite connection.
func ApplySQLite(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("sqlite connection required")
	}
	for _, stmt := range sqliteSchema {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
