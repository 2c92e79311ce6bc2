/**
 * @description
 * Idempotent schema bootstrap for the payments-service tables. EnsureSchema
 * runs at startup and creates any missing tables, constraints, and indexes.
 *
 * The UNIQUE constraint on payment_receipts.payment_request_id makes the
 * one-receipt-per-request invariant structural rather than behavioral.
 *
 * ledger_entries.seq is assigned at insert time, while the confirm
 * transaction still holds the member row lock, so ordering by seq always
 * matches the order the balance mutations were applied. created_at cannot
 * serve that purpose: NOW() is the transaction start time, not insert time.
 */

package store

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id UUID PRIMARY KEY,
		member_no TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		auth_subject TEXT NOT NULL UNIQUE,
		account_number TEXT NOT NULL UNIQUE,
		balance BIGINT NOT NULL DEFAULT 0,
		share_count BIGINT NOT NULL DEFAULT 0,
		share_value BIGINT NOT NULL DEFAULT 0,
		fees_paid BIGINT NOT NULL DEFAULT 0,
		entry_fee_paid BOOLEAN NOT NULL DEFAULT false,
		welfare_fund_paid BOOLEAN NOT NULL DEFAULT false,
		building_fund_paid BOOLEAN NOT NULL DEFAULT false,
		status TEXT NOT NULL DEFAULT 'pending_payment',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS payment_requests (
		id UUID PRIMARY KEY,
		member_id UUID NOT NULL REFERENCES members(id),
		transaction_id TEXT NOT NULL UNIQUE,
		amount BIGINT NOT NULL CHECK (amount > 0),
		purpose TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		expires_at TIMESTAMPTZ NOT NULL,
		payment_method TEXT,
		bank_reference TEXT,
		paid_at TIMESTAMPTZ,
		receipt_generated BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_payment_requests_member_created
		ON payment_requests (member_id, created_at DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_payment_requests_pending_expiry
		ON payment_requests (expires_at) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id UUID PRIMARY KEY,
		seq BIGSERIAL,
		member_id UUID NOT NULL REFERENCES members(id),
		payment_request_id UUID NOT NULL REFERENCES payment_requests(id),
		entry_type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_member_seq
		ON ledger_entries (member_id, seq DESC)`,

	`CREATE TABLE IF NOT EXISTS payment_receipts (
		id UUID PRIMARY KEY,
		receipt_number TEXT NOT NULL UNIQUE,
		member_id UUID NOT NULL REFERENCES members(id),
		payment_request_id UUID NOT NULL UNIQUE REFERENCES payment_requests(id),
		amount BIGINT NOT NULL,
		purpose TEXT NOT NULL,
		bank_reference TEXT,
		details JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_payment_receipts_member
		ON payment_receipts (member_id)`,
}

// EnsureSchema creates any missing tables and indexes.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	log.Println("level=info component=store msg=\"ensuring database schema\"")
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}
