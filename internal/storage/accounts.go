package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nmelo/metergate/internal/domain"
)

type accountRow struct {
	AccountID uuid.UUID       `db:"account_id"`
	KeyID     uuid.UUID       `db:"key_id"`
	IsActive  bool            `db:"is_active"`
	Balance   decimal.Decimal `db:"balance_usd"`
}

// ResolveByKey resolves an API key to its account and wallet balance.
// The query always reads the live is_active flag; revocation takes
// effect on the very next call.
func (s *Postgres) ResolveByKey(ctx context.Context, key string) (*domain.Account, error) {
	query := `
		SELECT ak.account_id, ak.id AS key_id, ak.is_active, w.balance_usd
		FROM api_keys ak
		JOIN wallets w ON w.account_id = ak.account_id
		WHERE ak.key = $1
	`

	var row accountRow
	err := s.db.GetContext(ctx, &row, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to resolve API key: %w", err)
	}

	return &domain.Account{
		ID:        row.AccountID,
		KeyID:     row.KeyID,
		KeyActive: row.IsActive,
		Balance:   row.Balance,
	}, nil
}

// TouchKey updates the key's last-used timestamp.
func (s *Postgres) TouchKey(ctx context.Context, keyID uuid.UUID, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, keyID, at); err != nil {
		return fmt.Errorf("failed to update key last-used timestamp: %w", err)
	}
	return nil
}

// CreateAccount provisions an account with one API key and a wallet
// holding the opening balance. Used by the seed tool, never by the
// billing pipeline.
func (s *Postgres) CreateAccount(ctx context.Context, email, keyName, key string, openingBalance decimal.Decimal) (uuid.UUID, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	accountID := uuid.New()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email) VALUES ($1, $2)`,
		accountID, email,
	); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create account: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO api_keys (id, account_id, key, name, is_active) VALUES ($1, $2, $3, $4, true)`,
		uuid.New(), accountID, key, keyName,
	); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create API key: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallets (id, account_id, balance_usd, total_purchased_usd) VALUES ($1, $2, $3, $3)`,
		uuid.New(), accountID, openingBalance,
	); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit account creation: %w", err)
	}
	return accountID, nil
}
