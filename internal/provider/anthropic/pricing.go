package anthropic

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nmelo/metergate/internal/domain"
)

// claude-3-5-haiku pricing, USD per one million tokens.
const (
	haikuInputPerMTok  = "0.80"
	haikuOutputPerMTok = "4.00"
)

// RegisterPricing registers Anthropic model pricing with the registry.
func RegisterPricing(ctx context.Context, registry domain.PricingRegistry) error {
	models := map[string]domain.PricingConfig{
		"claude-3-5-haiku-20241022": {
			InputPerMTok:  decimal.RequireFromString(haikuInputPerMTok),
			OutputPerMTok: decimal.RequireFromString(haikuOutputPerMTok),
		},
	}

	for model, config := range models {
		if err := registry.RegisterPricing(ctx, model, config); err != nil {
			return fmt.Errorf("failed to register pricing for model %s: %w", model, err)
		}
	}

	return nil
}
