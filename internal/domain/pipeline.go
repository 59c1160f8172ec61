package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nmelo/metergate/internal/observability"
)

// BillingPolicy holds the billing knobs of the pipeline.
type BillingPolicy struct {
	// SafetyFactor is the multiple of the pre-flight estimate the wallet
	// must cover before execution. The estimate is approximate, so the
	// gate is deliberately wider than the estimate itself.
	SafetyFactor decimal.Decimal

	// MockOutputTokens is the synthetic output token count billed in
	// mock mode.
	MockOutputTokens int

	// ProviderTimeout bounds a single upstream call. Expiry surfaces as
	// ErrProvider with no balance mutation. Zero disables the bound.
	ProviderTimeout time.Duration
}

// BillingPipeline orchestrates the full request lifecycle:
// authenticate, estimate, confirm-gate, balance-check, execute, settle.
// Every failure path before settlement leaves the wallet and the usage
// log untouched.
type BillingPipeline struct {
	accounts  AccountStore
	ledger    Ledger
	registry  ProviderRegistry
	calc      CostCalculator
	estimator TokenEstimator
	events    EventPublisher
	policy    BillingPolicy
}

// NewBillingPipeline creates a new billing pipeline (DI constructor).
func NewBillingPipeline(
	accounts AccountStore,
	ledger Ledger,
	registry ProviderRegistry,
	calc CostCalculator,
	estimator TokenEstimator,
	events EventPublisher,
	policy BillingPolicy,
) *BillingPipeline {
	return &BillingPipeline{
		accounts:  accounts,
		ledger:    ledger,
		registry:  registry,
		calc:      calc,
		estimator: estimator,
		events:    events,
		policy:    policy,
	}
}

// Execute runs one request through the pipeline. When req.ConfirmCost
// is unset the run terminates at the estimate: the outcome carries the
// projection and nothing has been charged or logged, no matter how many
// times the caller repeats it. When confirmed, the request executes
// (mock or upstream), is settled against authoritative usage, and the
// outcome carries the settlement.
func (p *BillingPipeline) Execute(
	ctx context.Context,
	apiKey string,
	req *CompletionRequest,
) (*Outcome, error) {
	if req == nil || req.Model == "" || len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: model and messages are required", ErrBadRequest)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrUnauthorized)
	}

	logger := observability.FromContext(ctx)

	// ESTIMATING. Runs before any account interaction so an unsupported
	// model never touches billing state.
	estInput := p.estimator.EstimateInput(req.Model, req.Messages)
	estOutput := p.estimator.EstimateOutput(estInput)
	estCost, err := p.calc.Cost(ctx, req.Model, estInput, estOutput)
	if err != nil {
		return nil, err
	}

	// AUTHENTICATING.
	account, err := p.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	// Confirmation gate: terminal for this call, no side effects.
	if !req.ConfirmCost {
		return &Outcome{Estimate: &CostEstimate{
			Model:         req.Model,
			InputTokens:   estInput,
			OutputTokens:  estOutput,
			CostUSD:       estCost,
			Breakdown:     p.calc.Breakdown(estCost),
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance.Sub(estCost),
		}}, nil
	}

	// BALANCE_CHECK against a safety multiple of the estimate. Equality
	// passes; only a balance strictly below the threshold is rejected.
	required := estCost.Mul(p.policy.SafetyFactor)
	if account.Balance.LessThan(required) {
		return nil, &InsufficientFundsError{
			Balance:       account.Balance,
			EstimatedCost: estCost,
		}
	}

	// The request is legitimate and funded; record key activity. Not
	// billable, so a failure here only warns.
	if touchErr := p.accounts.TouchKey(ctx, account.KeyID, time.Now()); touchErr != nil {
		logger.Warn("failed to update key last-used timestamp",
			observability.Error(touchErr))
	}

	// EXECUTING.
	resp, err := p.execute(ctx, req, estInput)
	if err != nil {
		return nil, err
	}

	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		// Billed as zero rather than failing, but this is a provider
		// data-quality problem worth surfacing.
		logger.Warn("provider reported no usage counters, billing zero",
			observability.String("provider", resp.Provider),
			observability.String("model", req.Model))
	}

	// SETTLING from authoritative usage, never the estimate.
	return p.settle(ctx, account, req, resp)
}

func (p *BillingPipeline) authenticate(ctx context.Context, apiKey string) (*Account, error) {
	account, err := p.accounts.ResolveByKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: invalid API key", ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to resolve API key: %w", err)
	}
	if !account.KeyActive {
		return nil, fmt.Errorf("%w: API key is disabled", ErrUnauthorized)
	}
	return account, nil
}

func (p *BillingPipeline) execute(
	ctx context.Context,
	req *CompletionRequest,
	estInput int,
) (*CompletionResponse, error) {
	if req.Mock {
		return p.mockResponse(req.Model, estInput), nil
	}

	provider, err := p.registry.GetByModel(ctx, req.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: no provider registered for %s", ErrUnsupportedModel, req.Model)
	}

	callCtx := ctx
	if p.policy.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.policy.ProviderTimeout)
		defer cancel()
	}

	resp, err := provider.Complete(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return resp, nil
}

// mockResponse synthesizes a completion without contacting any upstream
// provider. Input usage is the local estimate, output usage a fixed
// synthetic count, so mock requests still exercise the settlement path.
func (p *BillingPipeline) mockResponse(model string, estInput int) *CompletionResponse {
	return &CompletionResponse{
		ID:       fmt.Sprintf("mock-%s", uuid.New().String()),
		Model:    model,
		Provider: "mock",
		Content: fmt.Sprintf("[MOCK RESPONSE] This is a simulated %s response. "+
			"In production, this would be the actual AI output.", model),
		Usage: Usage{
			InputTokens:  estInput,
			OutputTokens: p.policy.MockOutputTokens,
		},
		FinishTime: time.Now(),
	}
}

func (p *BillingPipeline) settle(
	ctx context.Context,
	account *Account,
	req *CompletionRequest,
	resp *CompletionResponse,
) (*Outcome, error) {
	actualCost, err := p.calc.Cost(ctx, req.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if err != nil {
		return nil, err
	}

	rec := &UsageRecord{
		ID:           uuid.New(),
		AccountID:    account.ID,
		APIKeyID:     account.KeyID,
		Model:        req.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      actualCost,
		CreatedAt:    time.Now(),
	}

	newBalance, err := p.ledger.Debit(ctx, rec)
	if err != nil {
		return nil, err
	}

	if p.events != nil {
		p.events.Publish(ctx, "usage.settled", map[string]interface{}{
			"account_id":    account.ID.String(),
			"model":         req.Model,
			"provider":      resp.Provider,
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"cost_usd":      actualCost.String(),
			"mock":          req.Mock,
		})
	}

	return &Outcome{Settled: &Settlement{
		Content:          resp.Content,
		Model:            resp.Model,
		Provider:         resp.Provider,
		Usage:            resp.Usage,
		CostUSD:          actualCost,
		Breakdown:        p.calc.Breakdown(actualCost),
		BalanceRemaining: newBalance,
		Mock:             req.Mock,
	}}, nil
}
