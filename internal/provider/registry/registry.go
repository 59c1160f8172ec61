package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nmelo/metergate/internal/domain"
)

// Registry implements the ProviderRegistry interface. Routing is by
// exact model name first, then by model-name prefix, so adding a
// provider family is a registration rather than a branch in the
// pipeline.
type Registry struct {
	mu               sync.RWMutex
	providers        map[string]domain.Provider
	modelToProvider  map[string]string
	prefixToProvider map[string]string
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:               sync.RWMutex{},
		providers:        make(map[string]domain.Provider),
		modelToProvider:  make(map[string]string),
		prefixToProvider: make(map[string]string),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(ctx context.Context, provider domain.Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.providers[name] = provider

	// Build reverse indexes from the provider's supported models and
	// claimed prefixes.
	for _, model := range provider.SupportedModels(ctx) {
		r.modelToProvider[model] = name
	}
	for _, prefix := range provider.ModelPrefixes() {
		if existing, taken := r.prefixToProvider[prefix]; taken {
			return fmt.Errorf("model prefix %q already claimed by provider %s", prefix, existing)
		}
		r.prefixToProvider[prefix] = name
	}

	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(_ context.Context, providerName string) (domain.Provider, error) {
	if providerName == "" {
		return nil, errors.New("provider name cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[providerName]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", providerName)
	}

	return provider, nil
}

// List returns all available providers.
func (r *Registry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}

	return names, nil
}

// GetByModel retrieves the provider responsible for the given model.
func (r *Registry) GetByModel(ctx context.Context, model string) (domain.Provider, error) {
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Exact match via reverse index.
	if providerName, exists := r.modelToProvider[model]; exists {
		return r.providers[providerName], nil
	}

	// Longest matching claimed prefix wins.
	bestLen := 0
	bestName := ""
	for prefix, providerName := range r.prefixToProvider {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			bestName = providerName
		}
	}
	if bestName != "" {
		return r.providers[bestName], nil
	}

	// Fallback to asking each provider, for dynamic models not in any
	// index.
	for _, provider := range r.providers {
		if provider.IsModelSupported(ctx, model) {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("%w: no provider found for model %s", domain.ErrUnsupportedModel, model)
}
