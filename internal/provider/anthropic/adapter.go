// Package anthropic provides an adapter for the Anthropic Messages API
// over a plain HTTP client. It implements the domain.Provider interface
// and reports the authoritative usage counters from the API response.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nmelo/metergate/internal/domain"
	"github.com/nmelo/metergate/internal/observability"
)

// Provider implements the domain.Provider interface for Anthropic.
type Provider struct {
	client    *Client
	name      string
	maxTokens int
	models    map[string]bool
}

// NewProvider creates a new Anthropic provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &Provider{
		client:    NewClient(config),
		name:      "anthropic",
		maxTokens: config.MaxTokens,
		models:    buildModelSet(SupportedModels()),
	}, nil
}

// Complete sends a completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling Anthropic API")

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	messages := make([]anthropicMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = anthropicMessage{Role: msg.Role, Content: msg.Content}
	}

	resp, err := p.client.Complete(ctx, anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  messages,
	})
	if err != nil {
		logger.Error("Anthropic API call failed", observability.Error(err))
		return nil, fmt.Errorf("Anthropic API call failed: %w", err)
	}

	logger.Debug("Anthropic API call succeeded",
		observability.Int("input_tokens", resp.Usage.InputTokens),
		observability.Int("output_tokens", resp.Usage.OutputTokens),
	)

	return &domain.CompletionResponse{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: p.name,
		Content:  resp.Text(),
		Usage: domain.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		FinishTime: time.Now(),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// IsModelSupported checks if the provider supports the given model.
func (p *Provider) IsModelSupported(_ context.Context, model string) bool {
	return p.models[model]
}

// SupportedModels returns the models this provider serves exactly.
func (p *Provider) SupportedModels(_ context.Context) []string {
	return SupportedModels()
}

// ModelPrefixes returns the model-name prefixes this provider claims.
func (p *Provider) ModelPrefixes() []string {
	return []string{"claude-"}
}
