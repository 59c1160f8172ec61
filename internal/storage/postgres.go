// Package storage owns the durable billing state: accounts, API keys,
// wallets and the append-only usage log. The Postgres store is the
// production backend; the in-memory store serves tests and local
// development with the same contract.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/nmelo/metergate/internal/observability"
)

// Config holds Postgres connection settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// Postgres is the durable store backed by Postgres. It implements the
// domain AccountStore, Ledger and UsageReader interfaces.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects to Postgres and verifies the connection.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	observability.FromContext(ctx).Info("connected to postgres")

	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}
