package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
        id UUID PRIMARY KEY,
        owner_kind TEXT NOT NULL,
        owner_id TEXT NOT NULL,
        balance NUMERIC(16,4) NOT NULL DEFAULT 0,
        ceiling_withdraw NUMERIC(16,4) NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (owner_kind, owner_id)
    )`,
	`CREATE TABLE IF NOT EXISTS transactions (
        id UUID PRIMARY KEY,
        user_id TEXT,
        subject_kind TEXT NOT NULL,
        subject_id TEXT NOT NULL,
        amount NUMERIC(16,4) NOT NULL DEFAULT 0,
        type TEXT NOT NULL CHECK (type IN ('deposit', 'withdraw')),
        accepted BOOLEAN NOT NULL DEFAULT false,
        meta JSONB,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_type ON transactions (type)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_accepted ON transactions (accepted)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_subject ON transactions (subject_kind, subject_id)`,
	`CREATE TABLE IF NOT EXISTS payments (
        id UUID PRIMARY KEY,
        subject_kind TEXT,
        subject_id TEXT,
        amount NUMERIC(16,4) NOT NULL DEFAULT 0,
        authority TEXT NOT NULL,
        ref_id TEXT,
        status_code TEXT,
        gateway VARCHAR(50) NOT NULL,
        payed_at TIMESTAMPTZ,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (amount, authority)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_payments_payed_at ON payments (payed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_authority ON payments (authority)`,
}

// Migrate applies the wallet, transaction and payment schema. Statements are
// idempotent so repeated startup runs are safe.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
