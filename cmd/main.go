package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/nmelo/metergate/internal/config"
	"github.com/nmelo/metergate/internal/domain"
	"github.com/nmelo/metergate/internal/events"
	"github.com/nmelo/metergate/internal/http"
	"github.com/nmelo/metergate/internal/http/middleware"
	"github.com/nmelo/metergate/internal/observability"
	"github.com/nmelo/metergate/internal/provider/anthropic"
	"github.com/nmelo/metergate/internal/provider/openai"
	"github.com/nmelo/metergate/internal/provider/registry"
	"github.com/nmelo/metergate/internal/storage"
	"github.com/nmelo/metergate/internal/tokenizer"
)

// ErrProviderNotConfigured indicates that a provider is not configured and should be skipped.
var ErrProviderNotConfigured = errors.New("provider not configured")

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *http.Server) {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

// storeResult fans the selected storage backend out to the three
// domain interfaces it implements.
type storeResult struct {
	dig.Out

	Accounts domain.AccountStore
	Ledger   domain.Ledger
	Usage    domain.UsageReader
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Invoke(func(_ *zap.Logger) {}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Pricing
	if err := container.Provide(func() domain.PricingRegistry {
		return domain.NewInMemoryPricingRegistry()
	}); err != nil {
		log.Fatalf("Failed to provide pricing registry: %v", err)
	}
	if err := container.Invoke(func(pricing domain.PricingRegistry) error {
		ctx := context.Background()
		if err := openai.RegisterPricing(ctx, pricing); err != nil {
			return err
		}
		return anthropic.RegisterPricing(ctx, pricing)
	}); err != nil {
		log.Fatalf("Failed to register model pricing: %v", err)
	}

	// Cost calculation and token estimation
	if err := container.Provide(func(cfg *config.BillingConfig, pricing domain.PricingRegistry) (domain.CostCalculator, error) {
		markup, err := decimal.NewFromString(cfg.MarkupFactor)
		if err != nil {
			return nil, fmt.Errorf("invalid MARKUP_FACTOR %q: %w", cfg.MarkupFactor, err)
		}
		return domain.NewStandardCostCalculator(pricing, markup)
	}); err != nil {
		log.Fatalf("Failed to provide cost calculator: %v", err)
	}
	if err := container.Provide(func() domain.TokenEstimator {
		return tokenizer.NewEstimator()
	}); err != nil {
		log.Fatalf("Failed to provide token estimator: %v", err)
	}

	// Storage
	if err := container.Provide(provideStore); err != nil {
		log.Fatalf("Failed to provide storage: %v", err)
	}

	// Events
	if err := container.Provide(provideEventPublisher); err != nil {
		log.Fatalf("Failed to provide event publisher: %v", err)
	}

	// Provider Registry
	if err := container.Provide(func() domain.ProviderRegistry {
		return registry.NewRegistry()
	}); err != nil {
		log.Fatalf("Failed to provide registry: %v", err)
	}

	// OpenAI Provider
	if err := container.Provide(func(cfg *openai.Config) (*openai.Provider, error) {
		if cfg.APIKey == "" {
			return nil, ErrProviderNotConfigured
		}
		return openai.NewProvider(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide OpenAI provider: %v", err)
	}

	// Anthropic Provider
	if err := container.Provide(func(cfg *anthropic.Config) (*anthropic.Provider, error) {
		if cfg.APIKey == "" {
			return nil, ErrProviderNotConfigured
		}
		return anthropic.NewProvider(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide Anthropic provider: %v", err)
	}

	// Register providers with registry (invoked for side effects).
	// Each provider registers independently so one missing API key does
	// not prevent the other provider from serving.
	if err := container.Invoke(func(reg domain.ProviderRegistry, p *openai.Provider) error {
		return reg.Register(context.Background(), p)
	}); err != nil && !errors.Is(err, ErrProviderNotConfigured) {
		log.Fatalf("Failed to register OpenAI provider: %v", err)
	}
	if err := container.Invoke(func(reg domain.ProviderRegistry, p *anthropic.Provider) error {
		return reg.Register(context.Background(), p)
	}); err != nil && !errors.Is(err, ErrProviderNotConfigured) {
		log.Fatalf("Failed to register Anthropic provider: %v", err)
	}

	// Billing pipeline
	if err := container.Provide(func(cfg *config.BillingConfig) (domain.BillingPolicy, error) {
		safety, err := decimal.NewFromString(cfg.SafetyFactor)
		if err != nil {
			return domain.BillingPolicy{}, fmt.Errorf("invalid BALANCE_SAFETY_FACTOR %q: %w", cfg.SafetyFactor, err)
		}
		return domain.BillingPolicy{
			SafetyFactor:     safety,
			MockOutputTokens: cfg.MockOutputTokens,
			ProviderTimeout:  time.Duration(cfg.ProviderTimeout) * time.Second,
		}, nil
	}); err != nil {
		log.Fatalf("Failed to provide billing policy: %v", err)
	}
	if err := container.Provide(domain.NewBillingPipeline); err != nil {
		log.Fatalf("Failed to provide billing pipeline: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

// provideStore selects the storage backend. Postgres is the production
// default; memory serves local development without a database.
func provideStore(cfg *config.StorageConfig) (storeResult, error) {
	ctx := context.Background()

	if cfg.Backend == "memory" {
		observability.FromContext(ctx).Warn("using in-memory storage, state is not durable")
		mem := storage.NewMemory()
		return storeResult{Accounts: mem, Ledger: mem, Usage: mem}, nil
	}

	pg, err := storage.NewPostgres(ctx, storage.Config{
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return storeResult{}, err
	}
	if err := pg.InitSchema(ctx); err != nil {
		return storeResult{}, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storeResult{Accounts: pg, Ledger: pg, Usage: pg}, nil
}

// provideEventPublisher wires the Redis event buffer when configured,
// falling back to a log-backed bus otherwise.
func provideEventPublisher(cfg *config.RedisConfig) (domain.EventPublisher, error) {
	if cfg.Addr == "" {
		return observability.NewEventBus(slog.Default()), nil
	}

	publisher, err := events.NewRedisPublisher(context.Background(), events.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		QueueKey: cfg.EventQueueKey,
		MaxSize:  cfg.EventQueueMax,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis event buffer: %w", err)
	}
	return publisher, nil
}
