package openai

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nmelo/metergate/internal/domain"
)

// gpt-4o-mini pricing, USD per one million tokens.
const (
	gpt4oMiniInputPerMTok  = "0.15"
	gpt4oMiniOutputPerMTok = "0.60"
)

// RegisterPricing registers OpenAI model pricing with the registry.
func RegisterPricing(ctx context.Context, registry domain.PricingRegistry) error {
	models := map[string]domain.PricingConfig{
		"gpt-4o-mini": {
			InputPerMTok:  decimal.RequireFromString(gpt4oMiniInputPerMTok),
			OutputPerMTok: decimal.RequireFromString(gpt4oMiniOutputPerMTok),
		},
	}

	for model, config := range models {
		if err := registry.RegisterPricing(ctx, model, config); err != nil {
			return fmt.Errorf("failed to register pricing for model %s: %w", model, err)
		}
	}

	return nil
}
