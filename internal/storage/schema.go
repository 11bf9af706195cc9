package storage

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,
    user_id         INTEGER NOT NULL,
    plan_id         TEXT NOT NULL,
    image_id        TEXT NOT NULL,
    duration_months INTEGER NOT NULL,
    hostname        TEXT NOT NULL,
    coupon_code     TEXT,
    total_amount    REAL NOT NULL,
    status          TEXT NOT NULL,
    paid_at         TIMESTAMP,
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS status_history (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id        TEXT NOT NULL,
    previous_status TEXT NOT NULL,
    new_status      TEXT NOT NULL,
    actor           TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_history_order ON status_history(order_id);

CREATE TABLE IF NOT EXISTS invoices (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    number            TEXT NOT NULL UNIQUE,
    order_id          TEXT NOT NULL UNIQUE,
    user_id           INTEGER NOT NULL,
    amount            REAL NOT NULL,
    fee_amount        REAL NOT NULL DEFAULT 0,
    status            TEXT NOT NULL,
    channel           TEXT,
    gateway_reference TEXT,
    pay_code          TEXT,
    checkout_url      TEXT,
    paid_at           TIMESTAMP,
    due_at            TIMESTAMP NOT NULL,
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invoices_reference ON invoices(gateway_reference);

CREATE TABLE IF NOT EXISTS provision_tasks (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id         TEXT NOT NULL UNIQUE,
    status           TEXT NOT NULL,
    provider_task_id TEXT,
    instance_id      TEXT,
    instance_ip      TEXT,
    region           TEXT,
    error_message    TEXT,
    started_at       TIMESTAMP,
    finished_at      TIMESTAMP,
    created_at       TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provision_tasks_status ON provision_tasks(status);

CREATE TABLE IF NOT EXISTS webhook_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    reference    TEXT NOT NULL,
    status       TEXT NOT NULL,
    processed_at TIMESTAMP,
    created_at   TIMESTAMP NOT NULL,
    UNIQUE(reference, status)
);
`

// Bootstrap creates the tables. Safe to run on every startup.
func (s *storageImpl) Bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
