package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nmelo/metergate/internal/domain"
)

const defaultUsageLimit = 50

// RecentUsage returns the account's most recent usage records, newest
// first.
func (s *Postgres) RecentUsage(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.UsageRecord, error) {
	if limit <= 0 {
		limit = defaultUsageLimit
	}

	query := `
		SELECT id, account_id, api_key_id, model, input_tokens, output_tokens, cost_usd, created_at
		FROM usage_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var records []domain.UsageRecord
	if err := s.db.SelectContext(ctx, &records, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}
