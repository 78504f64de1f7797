package database

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations run in order on startup. Statements are idempotent so a
// restart against an existing schema is a no-op.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		username        TEXT NOT NULL UNIQUE,
		email           TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		role            TEXT NOT NULL DEFAULT 'staff',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id                TEXT PRIMARY KEY,
		customer_email    TEXT NOT NULL,
		product_title     TEXT NOT NULL,
		asset_ref         TEXT,
		status            TEXT NOT NULL DEFAULT 'PENDING',
		payment_reference TEXT UNIQUE,
		charge_reference  TEXT,
		paid_at           TIMESTAMPTZ,
		cancelled_at      TIMESTAMPTZ,
		notes             TEXT NOT NULL DEFAULT '',
		version           INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_charge_reference ON orders (charge_reference)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id                     TEXT PRIMARY KEY,
		queue_name             TEXT NOT NULL,
		actor_id               TEXT NOT NULL,
		priority               INTEGER NOT NULL DEFAULT 0,
		attempts               INTEGER NOT NULL DEFAULT 0,
		run_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		locked                 BOOLEAN NOT NULL DEFAULT FALSE,
		locked_at              TIMESTAMPTZ,
		complete               BOOLEAN NOT NULL DEFAULT FALSE,
		completed_at           TIMESTAMPTZ,
		completed_with_failure BOOLEAN NOT NULL DEFAULT FALSE,
		failure_reason         TEXT,
		last_error             TEXT,
		failed_at              TIMESTAMPTZ,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_claimable
		ON jobs (priority DESC, run_at ASC)
		WHERE complete = FALSE AND locked = FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_stale
		ON jobs (locked_at)
		WHERE locked = TRUE AND complete = FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_queue_name ON jobs (queue_name)`,

	`CREATE TABLE IF NOT EXISTS webhook_events (
		event_id    TEXT PRIMARY KEY,
		event_type  TEXT NOT NULL,
		order_id    TEXT,
		outcome     TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS order_refunds (
		id           TEXT PRIMARY KEY,
		order_id     TEXT NOT NULL REFERENCES orders (id),
		refund_ref   TEXT NOT NULL UNIQUE,
		charge_ref   TEXT,
		amount_cents BIGINT NOT NULL DEFAULT 0,
		currency     TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_refunds_order_id ON order_refunds (order_id)`,
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
