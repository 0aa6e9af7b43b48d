package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Schema is the wallet DDL, applied idempotently at startup. The partial
// unique indexes back the payment/payout idempotency guarantees: at most one
// completed order_payment and one completed commission entry per order, and
// at most one entry per (account, external reference) pair.
const Schema = `
CREATE TABLE IF NOT EXISTS partners (
	id              VARCHAR(64) PRIMARY KEY,
	store_name      VARCHAR(140) NOT NULL,
	email           VARCHAR(255) NOT NULL UNIQUE,
	commission_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	bank_account    VARCHAR(34),
	bank_code       VARCHAR(35),
	status          VARCHAR(20) NOT NULL DEFAULT 'active',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_login      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS orders (
	id                     VARCHAR(64) PRIMARY KEY,
	partner_id             VARCHAR(64) NOT NULL REFERENCES partners(id),
	total                  BIGINT NOT NULL,
	commission_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency               VARCHAR(3) NOT NULL DEFAULT 'USD',
	status                 VARCHAR(20) NOT NULL DEFAULT 'pending',
	payment_status         VARCHAR(20) NOT NULL DEFAULT 'pending',
	partner_payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
	partner_payout_status  VARCHAR(20) NOT NULL DEFAULT 'pending',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_partner ON orders (partner_id);

CREATE TABLE IF NOT EXISTS wallet_balances (
	account_id VARCHAR(64) PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0,
	currency   VARCHAR(3) NOT NULL DEFAULT 'USD',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wallet_entries (
	id           VARCHAR(64) PRIMARY KEY,
	account_id   VARCHAR(64) NOT NULL,
	entry_type   VARCHAR(20) NOT NULL,
	amount       BIGINT NOT NULL CHECK (amount > 0),
	status       VARCHAR(20) NOT NULL DEFAULT 'pending',
	description  TEXT NOT NULL DEFAULT '',
	order_id     VARCHAR(64),
	external_ref VARCHAR(64),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_wallet_entries_account
	ON wallet_entries (account_id, created_at DESC);

CREATE UNIQUE INDEX IF NOT EXISTS uniq_completed_order_payment
	ON wallet_entries (order_id)
	WHERE entry_type = 'order_payment' AND status = 'completed';

CREATE UNIQUE INDEX IF NOT EXISTS uniq_completed_commission
	ON wallet_entries (order_id)
	WHERE entry_type = 'commission' AND status = 'completed';

CREATE UNIQUE INDEX IF NOT EXISTS uniq_external_ref
	ON wallet_entries (account_id, external_ref)
	WHERE external_ref IS NOT NULL;
`

// Migrate applies the schema. Every statement is IF NOT EXISTS, so running
// it on every boot is safe.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// MigrateDatabase applies the schema with error handling
func MigrateDatabase(db *sql.DB) {
	if err := Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database schema up to date")
}
