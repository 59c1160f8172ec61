package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CompletionRequest represents a unified LLM request.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Mock        bool      `json:"mock,omitempty"`
	ConfirmCost bool      `json:"confirm_cost,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// CompletionResponse represents a unified LLM response.
type CompletionResponse struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Provider   string    `json:"provider"`
	Content    string    `json:"content"`
	Usage      Usage     `json:"usage"`
	FinishTime time.Time `json:"finish_time"`
}

// Usage tracks token consumption as reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Account is the billing view of a caller resolved from an API key:
// the account, the key that was presented, and the wallet balance at
// the time of the lookup. The balance is a snapshot; the ledger is the
// only component allowed to mutate it.
type Account struct {
	ID        uuid.UUID
	KeyID     uuid.UUID
	KeyActive bool
	Balance   decimal.Decimal
}

// UsageRecord is an immutable, append-only fact describing one settled
// request. Records are never updated or deleted, and are never written
// for unconfirmed estimate calls.
type UsageRecord struct {
	ID           uuid.UUID       `db:"id"`
	AccountID    uuid.UUID       `db:"account_id"`
	APIKeyID     uuid.UUID       `db:"api_key_id"`
	Model        string          `db:"model"`
	InputTokens  int             `db:"input_tokens"`
	OutputTokens int             `db:"output_tokens"`
	CostUSD      decimal.Decimal `db:"cost_usd"`
	CreatedAt    time.Time       `db:"created_at"`
}

// CostBreakdown splits a billed amount into the upstream base cost and
// the markup portion. BaseCost + Markup always equals the billed total.
type CostBreakdown struct {
	BaseCost decimal.Decimal
	Markup   decimal.Decimal
}

// CostEstimate is the transient pre-flight projection returned to the
// caller before execution. It is never persisted.
type CostEstimate struct {
	Model         string
	InputTokens   int
	OutputTokens  int
	CostUSD       decimal.Decimal
	Breakdown     CostBreakdown
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// Settlement is the terminal result of a confirmed (or mock) request:
// the generated content plus the authoritative usage, the amount
// actually charged, and the balance left after the debit.
type Settlement struct {
	Content          string
	Model            string
	Provider         string
	Usage            Usage
	CostUSD          decimal.Decimal
	Breakdown        CostBreakdown
	BalanceRemaining decimal.Decimal
	Mock             bool
}

// Outcome is the result of one pipeline run. Exactly one field is set:
// Estimate when the caller still has to confirm, Settled once the
// request has executed and the wallet has been debited.
type Outcome struct {
	Estimate *CostEstimate
	Settled  *Settlement
}
