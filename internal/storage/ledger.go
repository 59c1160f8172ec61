package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/nmelo/metergate/internal/domain"
)

// Debit atomically charges the wallet and appends the usage record.
// The balance check and decrement are one conditional UPDATE, so the
// database row lock is the serialization point: two concurrent debits
// against the same account can never both pass a check against a stale
// balance, regardless of how many gateway processes are running. The
// usage insert shares the transaction, so money taken and usage logged
// happen together or not at all.
func (s *Postgres) Debit(ctx context.Context, rec *domain.UsageRecord) (decimal.Decimal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin debit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var newBalance decimal.Decimal
	err = tx.GetContext(ctx, &newBalance, `
		UPDATE wallets
		SET balance_usd = balance_usd - $1
		WHERE account_id = $2 AND balance_usd >= $1
		RETURNING balance_usd
	`, rec.CostUSD, rec.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, s.insufficientFunds(ctx, tx, rec)
		}
		return decimal.Zero, fmt.Errorf("failed to debit wallet: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_logs (id, account_id, api_key_id, model, input_tokens, output_tokens, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.AccountID, rec.APIKeyID, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.CreatedAt,
	); err != nil {
		return decimal.Zero, fmt.Errorf("failed to insert usage record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit debit: %w", err)
	}
	return newBalance, nil
}

// insufficientFunds distinguishes a missing wallet from a genuine
// shortfall and attaches the current balance to the error.
func (s *Postgres) insufficientFunds(ctx context.Context, tx *sqlx.Tx, rec *domain.UsageRecord) error {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance,
		`SELECT balance_usd FROM wallets WHERE account_id = $1`, rec.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: account %s", ErrWalletNotFound, rec.AccountID)
		}
		return fmt.Errorf("failed to read wallet balance: %w", err)
	}
	return &domain.InsufficientFundsError{
		Balance:       balance,
		EstimatedCost: rec.CostUSD,
	}
}

// Credit tops up the wallet and advances the lifetime purchase total.
// Ops/seed path only; the pipeline never credits.
func (s *Postgres) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := s.db.GetContext(ctx, &newBalance, `
		UPDATE wallets
		SET balance_usd = balance_usd + $1,
		    total_purchased_usd = total_purchased_usd + $1
		WHERE account_id = $2
		RETURNING balance_usd
	`, amount, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: account %s", ErrWalletNotFound, accountID)
		}
		return decimal.Zero, fmt.Errorf("failed to credit wallet: %w", err)
	}
	return newBalance, nil
}
