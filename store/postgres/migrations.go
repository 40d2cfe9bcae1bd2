package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the splitpay store.
var Migrations = migrate.NewGroup("splitpay")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_splitpay_subscriptions",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS splitpay_subscriptions (
    id          TEXT PRIMARY KEY,
    resource    TEXT NOT NULL,
    token_mint  TEXT NOT NULL,
    paid_until  BIGINT NOT NULL DEFAULT 0,
    version     BIGINT NOT NULL DEFAULT 1,
    account     BYTEA NOT NULL,
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_splitpay_subs_resource ON splitpay_subscriptions (resource);
CREATE INDEX IF NOT EXISTS idx_splitpay_subs_mint ON splitpay_subscriptions (token_mint, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS splitpay_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_splitpay_payments",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS splitpay_payments (
    id              TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL,
    payer           TEXT NOT NULL DEFAULT '',
    token_mint      TEXT NOT NULL,
    amount          TEXT NOT NULL,
    reference       TEXT NOT NULL DEFAULT '',
    paid_at         TIMESTAMPTZ NOT NULL,
    paid_until      TIMESTAMPTZ NOT NULL,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_splitpay_payments_sub ON splitpay_payments (subscription_id, paid_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_splitpay_payments_ref ON splitpay_payments (subscription_id, reference) WHERE reference != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS splitpay_payments`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_splitpay_transfers",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS splitpay_transfers (
    id              TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL,
    token_mint      TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    amount          TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempts        INT NOT NULL DEFAULT 0,
    executed_at     TIMESTAMPTZ,
    tx_ref          TEXT NOT NULL DEFAULT '',
    last_error      TEXT NOT NULL DEFAULT '',
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_splitpay_transfers_sub ON splitpay_transfers (subscription_id, created_at);
CREATE INDEX IF NOT EXISTS idx_splitpay_transfers_pending ON splitpay_transfers (created_at) WHERE status = 'pending';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS splitpay_transfers`)
				return err
			},
		},
	)
}
