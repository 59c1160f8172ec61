package storage

import (
	"context"
	"fmt"
)

// schemaStatements create the billing tables. Wallet balances carry 4
// fractional digits; usage costs carry 10 so per-request amounts keep
// the calculator's full rounding scale.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		key TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT 'Default Key',
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_key ON api_keys(key)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		id UUID PRIMARY KEY,
		account_id UUID UNIQUE NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		balance_usd DECIMAL(12, 4) NOT NULL DEFAULT 0,
		total_purchased_usd DECIMAL(12, 4) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		api_key_id UUID NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd DECIMAL(14, 10) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_account ON usage_logs(account_id, created_at)`,
}

// InitSchema creates the billing tables if they do not exist.
func (s *Postgres) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
