package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nmelo/metergate/internal/domain"
)

const testAPIKey = "mg-test-key"

// mockAccounts is a mock implementation of AccountStore for testing.
type mockAccounts struct {
	mu           sync.Mutex
	account      *domain.Account
	resolveErr   error
	touchErr     error
	resolveCalls int
	touchCalls   int
}

func (m *mockAccounts) ResolveByKey(_ context.Context, key string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resolveCalls++
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	if m.account == nil || key != testAPIKey {
		return nil, domain.ErrKeyNotFound
	}
	copied := *m.account
	return &copied, nil
}

func (m *mockAccounts) TouchKey(_ context.Context, _ uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touchCalls++
	return m.touchErr
}

// mockLedger is a mock implementation of Ledger for testing.
type mockLedger struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	debitErr error
	debits   []domain.UsageRecord
}

func (m *mockLedger) Debit(_ context.Context, rec *domain.UsageRecord) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.debitErr != nil {
		return decimal.Zero, m.debitErr
	}
	if m.balance.LessThan(rec.CostUSD) {
		return decimal.Zero, &domain.InsufficientFundsError{
			Balance:       m.balance,
			EstimatedCost: rec.CostUSD,
		}
	}
	m.balance = m.balance.Sub(rec.CostUSD)
	m.debits = append(m.debits, *rec)
	return m.balance, nil
}

func (m *mockLedger) debitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.debits)
}

// mockProvider is a mock implementation of Provider for testing.
type mockProvider struct {
	mu            sync.Mutex
	name          string
	completeFunc  func(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error)
	completeCalls int
}

func (m *mockProvider) Complete(
	ctx context.Context,
	req *domain.CompletionRequest,
) (*domain.CompletionResponse, error) {
	m.mu.Lock()
	m.completeCalls++
	m.mu.Unlock()

	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}
	return &domain.CompletionResponse{
		ID:       "test-id",
		Model:    req.Model,
		Provider: m.name,
		Content:  "test response",
		Usage: domain.Usage{
			InputTokens:  42,
			OutputTokens: 18,
		},
		FinishTime: time.Now(),
	}, nil
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) IsModelSupported(_ context.Context, _ string) bool { return true }

func (m *mockProvider) SupportedModels(_ context.Context) []string { return nil }

func (m *mockProvider) ModelPrefixes() []string { return nil }

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeCalls
}

// mockRegistry is a mock implementation of ProviderRegistry for testing.
type mockRegistry struct {
	provider domain.Provider
}

func (m *mockRegistry) Register(_ context.Context, provider domain.Provider) error {
	m.provider = provider
	return nil
}

func (m *mockRegistry) Get(_ context.Context, _ string) (domain.Provider, error) {
	if m.provider == nil {
		return nil, errors.New("provider not found")
	}
	return m.provider, nil
}

func (m *mockRegistry) GetByModel(_ context.Context, model string) (domain.Provider, error) {
	if m.provider == nil {
		return nil, errors.New("no provider found for model: " + model)
	}
	return m.provider, nil
}

func (m *mockRegistry) List(_ context.Context) ([]string, error) { return nil, nil }

// mockEstimator returns fixed token counts.
type mockEstimator struct {
	input int
}

func (m *mockEstimator) EstimateInput(_ string, _ []domain.Message) int { return m.input }

func (m *mockEstimator) EstimateOutput(inputTokens int) int { return inputTokens / 2 }

// mockPublisher captures published events.
type mockPublisher struct {
	mu     sync.Mutex
	events []string
}

func (m *mockPublisher) Publish(_ context.Context, eventType string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

func (m *mockPublisher) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// fixture bundles a pipeline with all its mocks pre-wired: gpt-4o-mini
// pricing, 1.25 markup, safety factor 2, estimator fixed at 40 input
// tokens (so the estimate is 40 in, 20 out, $0.0000225).
type fixture struct {
	pipeline *domain.BillingPipeline
	accounts *mockAccounts
	ledger   *mockLedger
	provider *mockProvider
	events   *mockPublisher
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()

	calc, _ := newTestCalculator(t)

	accounts := &mockAccounts{
		account: &domain.Account{
			ID:        uuid.New(),
			KeyID:     uuid.New(),
			KeyActive: true,
			Balance:   decimal.RequireFromString(balance),
		},
	}
	ledger := &mockLedger{balance: decimal.RequireFromString(balance)}
	provider := &mockProvider{name: "openai"}
	events := &mockPublisher{}

	pipeline := domain.NewBillingPipeline(
		accounts,
		ledger,
		&mockRegistry{provider: provider},
		calc,
		&mockEstimator{input: 40},
		events,
		domain.BillingPolicy{
			SafetyFactor:     decimal.RequireFromString("2.0"),
			MockOutputTokens: 50,
			ProviderTimeout:  time.Second,
		},
	)

	return &fixture{
		pipeline: pipeline,
		accounts: accounts,
		ledger:   ledger,
		provider: provider,
		events:   events,
	}
}

func testRequest(confirm, mock bool) *domain.CompletionRequest {
	return &domain.CompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []domain.Message{
			{Role: "user", Content: "Hello"},
		},
		Mock:        mock,
		ConfirmCost: confirm,
	}
}

func TestBillingPipeline_Estimate(t *testing.T) {
	t.Run("should return estimate without side effects when unconfirmed", func(t *testing.T) {
		f := newFixture(t, "10.00")

		outcome, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(false, false))

		require.NoError(t, err)
		require.NotNil(t, outcome.Estimate)
		require.Nil(t, outcome.Settled)

		est := outcome.Estimate
		require.Equal(t, 40, est.InputTokens)
		require.Equal(t, 20, est.OutputTokens)
		require.True(t, est.CostUSD.Equal(decimal.RequireFromString("0.0000225")),
			"got %s", est.CostUSD.String())
		require.True(t, est.BalanceBefore.Equal(decimal.RequireFromString("10.00")))
		require.True(t, est.BalanceAfter.Equal(est.BalanceBefore.Sub(est.CostUSD)))

		require.Zero(t, f.ledger.debitCount())
		require.Zero(t, f.provider.calls())
		require.Zero(t, f.accounts.touchCalls)
		require.Empty(t, f.events.published())
	})

	t.Run("should return identical estimates on repeated calls", func(t *testing.T) {
		f := newFixture(t, "10.00")

		first, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(false, false))
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			again, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(false, false))
			require.NoError(t, err)
			require.True(t, first.Estimate.CostUSD.Equal(again.Estimate.CostUSD))
			require.True(t, first.Estimate.BalanceBefore.Equal(again.Estimate.BalanceBefore))
		}
		require.Zero(t, f.ledger.debitCount())
	})

	t.Run("should return estimate even when balance cannot cover it", func(t *testing.T) {
		f := newFixture(t, "0.00")

		outcome, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(false, false))

		require.NoError(t, err)
		require.NotNil(t, outcome.Estimate)
		require.True(t, outcome.Estimate.BalanceAfter.IsNegative())
	})
}

func TestBillingPipeline_Validation(t *testing.T) {
	t.Run("should reject missing model and messages", func(t *testing.T) {
		f := newFixture(t, "10.00")

		_, err := f.pipeline.Execute(context.Background(), testAPIKey, &domain.CompletionRequest{})

		require.ErrorIs(t, err, domain.ErrBadRequest)
		require.Zero(t, f.accounts.resolveCalls)
	})

	t.Run("should reject unsupported model before resolving the account", func(t *testing.T) {
		f := newFixture(t, "10.00")
		req := testRequest(true, false)
		req.Model = "made-up-model"

		_, err := f.pipeline.Execute(context.Background(), testAPIKey, req)

		require.ErrorIs(t, err, domain.ErrUnsupportedModel)
		require.Zero(t, f.accounts.resolveCalls)
		require.Zero(t, f.ledger.debitCount())
	})

	t.Run("should reject missing API key", func(t *testing.T) {
		f := newFixture(t, "10.00")

		_, err := f.pipeline.Execute(context.Background(), "", testRequest(true, false))

		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("should reject unknown API key", func(t *testing.T) {
		f := newFixture(t, "10.00")

		_, err := f.pipeline.Execute(context.Background(), "mg-wrong-key", testRequest(true, false))

		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("should reject disabled API key", func(t *testing.T) {
		f := newFixture(t, "10.00")
		f.accounts.account.KeyActive = false

		_, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, false))

		require.ErrorIs(t, err, domain.ErrUnauthorized)
		require.Zero(t, f.ledger.debitCount())
	})
}

func TestBillingPipeline_BalanceCheck(t *testing.T) {
	t.Run("should pass when balance equals the safety threshold exactly", func(t *testing.T) {
		// Estimate is 0.0000225, safety factor 2, threshold 0.000045.
		f := newFixture(t, "0.000045")

		outcome, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, true))

		require.NoError(t, err)
		require.NotNil(t, outcome.Settled)
	})

	t.Run("should reject when balance is just below the threshold", func(t *testing.T) {
		f := newFixture(t, "0.0000449")

		_, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, true))

		require.ErrorIs(t, err, domain.ErrInsufficientFunds)

		var fundsErr *domain.InsufficientFundsError
		require.ErrorAs(t, err, &fundsErr)
		require.True(t, fundsErr.Balance.Equal(decimal.RequireFromString("0.0000449")))
		require.True(t, fundsErr.EstimatedCost.Equal(decimal.RequireFromString("0.0000225")))

		require.Zero(t, f.ledger.debitCount())
		require.Zero(t, f.provider.calls())
	})
}

func TestBillingPipeline_MockMode(t *testing.T) {
	t.Run("should never call the provider in mock mode", func(t *testing.T) {
		f := newFixture(t, "10.00")

		outcome, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, true))

		require.NoError(t, err)
		require.Zero(t, f.provider.calls())

		settled := outcome.Settled
		require.True(t, settled.Mock)
		require.Contains(t, settled.Content, "[MOCK RESPONSE]")
		require.Contains(t, settled.Content, "gpt-4o-mini")
		require.Equal(t, 40, settled.Usage.InputTokens)
		require.Equal(t, 50, settled.Usage.OutputTokens)
	})

	t.Run("should charge the wallet for mock usage", func(t *testing.T) {
		f := newFixture(t, "10.00")

		outcome, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, true))

		require.NoError(t, err)
		require.Equal(t, 1, f.ledger.debitCount())
		require.True(t, outcome.Settled.CostUSD.IsPositive())
		require.True(t, outcome.Settled.BalanceRemaining.Equal(
			decimal.RequireFromString("10.00").Sub(outcome.Settled.CostUSD)))
	})
}

func TestBillingPipeline_Settlement(t *testing.T) {
	t.Run("should settle from provider-reported usage, not the estimate", func(t *testing.T) {
		f := newFixture(t, "10.00")

		// The mock provider reports 42 in / 18 out; the estimate was 40/20.
		outcome, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, false))

		require.NoError(t, err)
		require.Equal(t, 1, f.provider.calls())

		settled := outcome.Settled
		require.Equal(t, 42, settled.Usage.InputTokens)
		require.Equal(t, 18, settled.Usage.OutputTokens)

		// (42*0.15 + 18*0.60) / 1e6 * 1.25 = 0.0000213750
		require.True(t, settled.CostUSD.Equal(decimal.RequireFromString("0.000021375")),
			"got %s", settled.CostUSD.String())

		require.Equal(t, 1, f.ledger.debitCount())
		rec := f.ledger.debits[0]
		require.Equal(t, 42, rec.InputTokens)
		require.Equal(t, 18, rec.OutputTokens)
		require.True(t, rec.CostUSD.Equal(settled.CostUSD))
	})

	t.Run("should record key activity on the confirmed path", func(t *testing.T) {
		f := newFixture(t, "10.00")

		_, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, false))

		require.NoError(t, err)
		require.Equal(t, 1, f.accounts.touchCalls)
	})

	t.Run("should settle even when recording key activity fails", func(t *testing.T) {
		f := newFixture(t, "10.00")
		f.accounts.touchErr = errors.New("timestamp update failed")

		outcome, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, false))

		require.NoError(t, err)
		require.NotNil(t, outcome.Settled)
	})

	t.Run("should bill zero when the provider reports no usage", func(t *testing.T) {
		f := newFixture(t, "10.00")
		f.provider.completeFunc = func(_ context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
			return &domain.CompletionResponse{
				ID:       "test-id",
				Model:    req.Model,
				Provider: "openai",
				Content:  "response without counters",
			}, nil
		}

		outcome, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, false))

		require.NoError(t, err)
		require.True(t, outcome.Settled.CostUSD.IsZero())
		require.Equal(t, 1, f.ledger.debitCount())
	})

	t.Run("should publish a settlement event", func(t *testing.T) {
		f := newFixture(t, "10.00")

		_, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, false))

		require.NoError(t, err)
		require.Equal(t, []string{"usage.settled"}, f.events.published())
	})
}

func TestBillingPipeline_ProviderFailure(t *testing.T) {
	t.Run("should not charge when the provider fails", func(t *testing.T) {
		f := newFixture(t, "10.00")
		f.provider.completeFunc = func(_ context.Context, _ *domain.CompletionRequest) (*domain.CompletionResponse, error) {
			return nil, errors.New("upstream unavailable")
		}

		_, err := f.pipeline.Execute(context.Background(), testAPIKey, testRequest(true, false))

		require.ErrorIs(t, err, domain.ErrProvider)
		require.Zero(t, f.ledger.debitCount())
		require.Empty(t, f.events.published())
	})

	t.Run("should surface provider timeouts as provider errors", func(t *testing.T) {
		f := newFixture(t, "10.00")
		f.provider.completeFunc = func(ctx context.Context, _ *domain.CompletionRequest) (*domain.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		// Rebuild with a very short timeout.
		calc, _ := newTestCalculator(t)
		pipeline := domain.NewBillingPipeline(
			f.accounts, f.ledger, &mockRegistry{provider: f.provider}, calc,
			&mockEstimator{input: 40}, f.events,
			domain.BillingPolicy{
				SafetyFactor:     decimal.RequireFromString("2.0"),
				MockOutputTokens: 50,
				ProviderTimeout:  time.Millisecond,
			},
		)

		_, err := pipeline.Execute(context.Background(), testAPIKey, testRequest(true, false))

		require.ErrorIs(t, err, domain.ErrProvider)
		require.Zero(t, f.ledger.debitCount())
	})
}
