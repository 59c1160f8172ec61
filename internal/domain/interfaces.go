package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider represents any LLM provider.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider identifier.
	Name() string

	// IsModelSupported checks if the provider supports the given model.
	IsModelSupported(ctx context.Context, model string) bool

	// SupportedModels returns the models this provider serves exactly.
	SupportedModels(ctx context.Context) []string

	// ModelPrefixes returns the model-name prefixes this provider claims,
	// e.g. "gpt-" or "claude-". Used for routing models that are not in
	// the exact list.
	ModelPrefixes() []string
}

// ProviderRegistry manages available providers and routes models to them.
type ProviderRegistry interface {
	// Register adds a provider to the registry.
	Register(ctx context.Context, provider Provider) error

	// Get retrieves a provider by name.
	Get(ctx context.Context, providerName string) (Provider, error)

	// GetByModel retrieves the provider responsible for the given model.
	GetByModel(ctx context.Context, model string) (Provider, error)

	// List returns all available providers.
	List(ctx context.Context) ([]string, error)
}

// AccountStore resolves API keys to billing accounts. Key creation and
// revocation happen out-of-band; the pipeline only reads. Resolution
// must not cache the active flag: a revoked key takes effect on the
// next call.
type AccountStore interface {
	// ResolveByKey returns the account owning the key, or ErrKeyNotFound.
	ResolveByKey(ctx context.Context, key string) (*Account, error)

	// TouchKey updates the key's last-used timestamp. Not billable.
	TouchKey(ctx context.Context, keyID uuid.UUID, at time.Time) error
}

// Ledger owns the wallet balance. Debit is the only sanctioned mutation
// on the billing path: it atomically checks the balance, decrements it
// by rec.CostUSD and appends the usage record, or does none of those.
// The conditional check-and-decrement must be a single indivisible
// operation against the store so that concurrent debits against one
// account cannot jointly overdraw it.
type Ledger interface {
	// Debit charges the account and records the usage fact, returning
	// the new balance. Fails with ErrInsufficientFunds without any
	// mutation if the balance does not cover the amount.
	Debit(ctx context.Context, rec *UsageRecord) (decimal.Decimal, error)
}

// UsageReader exposes the append-only usage log for read paths.
type UsageReader interface {
	RecentUsage(ctx context.Context, accountID uuid.UUID, limit int) ([]UsageRecord, error)
}

// TokenEstimator produces the cheap local token approximation used for
// pre-flight estimates. It is explicitly not authoritative; the counts
// that get billed come from the provider response.
type TokenEstimator interface {
	// EstimateInput approximates the input token count of the messages.
	EstimateInput(model string, messages []Message) int

	// EstimateOutput derives an output estimate from the input estimate.
	EstimateOutput(inputTokens int) int
}

// CostCalculator is the single source of truth for pricing token usage.
// The same formula and rounding serve both the pre-flight estimate and
// the final settlement; only the token counts differ.
type CostCalculator interface {
	// Cost returns the billed amount, markup included, for the usage.
	Cost(ctx context.Context, model string, inputTokens, outputTokens int) (decimal.Decimal, error)

	// Breakdown splits a billed amount into base cost and markup.
	Breakdown(cost decimal.Decimal) CostBreakdown

	// MarkupPercentage renders the markup as a display string, e.g. "25%".
	MarkupPercentage() string
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}
