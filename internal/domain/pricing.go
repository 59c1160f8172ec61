package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PricingConfig contains model pricing information.
// Prices are expressed in USD per one million tokens.
type PricingConfig struct {
	InputPerMTok  decimal.Decimal
	OutputPerMTok decimal.Decimal
}

// PricingRegistry maintains pricing information for models. The table
// is populated once at process start; prices never change mid-flight.
type PricingRegistry interface {
	// GetPricing returns pricing config for a model, or an error
	// matching ErrUnsupportedModel when the model is not registered.
	GetPricing(ctx context.Context, model string) (PricingConfig, error)

	// RegisterPricing adds pricing for a model. Called at boot only.
	RegisterPricing(ctx context.Context, model string, config PricingConfig) error
}
