package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// costScale is the number of fractional digits every billed amount is
// rounded to. Wallet debits accumulate across many tiny charges, so the
// scale stays well above the 6 digits the usage log stores.
const costScale = 10

var (
	tokensPerMillion = decimal.NewFromInt(1_000_000)
	oneHundred       = decimal.NewFromInt(100)
)

// StandardCostCalculator implements markup-inclusive token-based cost
// calculation with fixed-point arithmetic. One instance serves both the
// estimate path and the settle path, so the formula and rounding are
// identical by construction.
type StandardCostCalculator struct {
	pricingRegistry PricingRegistry
	markup          decimal.Decimal
}

// NewStandardCostCalculator creates a new cost calculator. The markup
// factor is a uniform multiplier on the upstream cost, e.g. 1.25.
func NewStandardCostCalculator(registry PricingRegistry, markup decimal.Decimal) (*StandardCostCalculator, error) {
	if markup.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("markup factor must be positive")
	}
	return &StandardCostCalculator{
		pricingRegistry: registry,
		markup:          markup,
	}, nil
}

// Cost computes markup × (inputTokens × inputPrice + outputTokens × outputPrice) / 1e6.
func (c *StandardCostCalculator) Cost(
	ctx context.Context,
	model string,
	inputTokens, outputTokens int,
) (decimal.Decimal, error) {
	if model == "" {
		return decimal.Zero, fmt.Errorf("%w: model cannot be empty", ErrBadRequest)
	}

	pricing, err := c.pricingRegistry.GetPricing(ctx, model)
	if err != nil {
		return decimal.Zero, err
	}

	inputCost := decimal.NewFromInt(int64(inputTokens)).Mul(pricing.InputPerMTok)
	outputCost := decimal.NewFromInt(int64(outputTokens)).Mul(pricing.OutputPerMTok)
	total := inputCost.Add(outputCost).Div(tokensPerMillion).Mul(c.markup)

	return total.Round(costScale), nil
}

// Breakdown splits a billed amount into the upstream base cost and the
// markup portion. The parts always sum to the input exactly.
func (c *StandardCostCalculator) Breakdown(cost decimal.Decimal) CostBreakdown {
	base := cost.Div(c.markup).Round(costScale)
	return CostBreakdown{
		BaseCost: base,
		Markup:   cost.Sub(base),
	}
}

// MarkupPercentage renders the markup factor for display, e.g. "25%".
func (c *StandardCostCalculator) MarkupPercentage() string {
	pct := c.markup.Sub(decimal.NewFromInt(1)).Mul(oneHundred)
	return pct.String() + "%"
}
