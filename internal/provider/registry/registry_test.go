package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmelo/metergate/internal/domain"
	"github.com/nmelo/metergate/internal/provider/registry"
)

// stubProvider is a minimal Provider for routing tests.
type stubProvider struct {
	name     string
	models   []string
	prefixes []string
}

func (s *stubProvider) Complete(_ context.Context, _ *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	return &domain.CompletionResponse{Provider: s.name}, nil
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) IsModelSupported(_ context.Context, model string) bool {
	for _, m := range s.models {
		if m == model {
			return true
		}
	}
	return false
}

func (s *stubProvider) SupportedModels(_ context.Context) []string { return s.models }

func (s *stubProvider) ModelPrefixes() []string { return s.prefixes }

func TestRegistry_Register(t *testing.T) {
	t.Run("should register a provider", func(t *testing.T) {
		reg := registry.NewRegistry()

		err := reg.Register(context.Background(), &stubProvider{name: "openai"})

		require.NoError(t, err)

		provider, err := reg.Get(context.Background(), "openai")
		require.NoError(t, err)
		require.Equal(t, "openai", provider.Name())
	})

	t.Run("should reject a nil provider", func(t *testing.T) {
		reg := registry.NewRegistry()

		err := reg.Register(context.Background(), nil)

		require.Error(t, err)
	})

	t.Run("should reject duplicate provider names", func(t *testing.T) {
		reg := registry.NewRegistry()

		require.NoError(t, reg.Register(context.Background(), &stubProvider{name: "openai"}))
		err := reg.Register(context.Background(), &stubProvider{name: "openai"})

		require.Error(t, err)
		require.Contains(t, err.Error(), "already registered")
	})

	t.Run("should reject a prefix claimed by another provider", func(t *testing.T) {
		reg := registry.NewRegistry()

		require.NoError(t, reg.Register(context.Background(),
			&stubProvider{name: "openai", prefixes: []string{"gpt-"}}))
		err := reg.Register(context.Background(),
			&stubProvider{name: "other", prefixes: []string{"gpt-"}})

		require.Error(t, err)
		require.Contains(t, err.Error(), "already claimed")
	})
}

func TestRegistry_GetByModel(t *testing.T) {
	t.Run("should route an exact model name to its provider", func(t *testing.T) {
		reg := registry.NewRegistry()
		require.NoError(t, reg.Register(context.Background(), &stubProvider{
			name:     "openai",
			models:   []string{"gpt-4o-mini"},
			prefixes: []string{"gpt-"},
		}))
		require.NoError(t, reg.Register(context.Background(), &stubProvider{
			name:     "anthropic",
			models:   []string{"claude-3-5-haiku-20241022"},
			prefixes: []string{"claude-"},
		}))

		provider, err := reg.GetByModel(context.Background(), "claude-3-5-haiku-20241022")

		require.NoError(t, err)
		require.Equal(t, "anthropic", provider.Name())
	})

	t.Run("should route unlisted models by prefix", func(t *testing.T) {
		reg := registry.NewRegistry()
		require.NoError(t, reg.Register(context.Background(), &stubProvider{
			name:     "openai",
			models:   []string{"gpt-4o-mini"},
			prefixes: []string{"gpt-"},
		}))

		provider, err := reg.GetByModel(context.Background(), "gpt-4.1-nano")

		require.NoError(t, err)
		require.Equal(t, "openai", provider.Name())
	})

	t.Run("should prefer the longest matching prefix", func(t *testing.T) {
		reg := registry.NewRegistry()
		require.NoError(t, reg.Register(context.Background(), &stubProvider{
			name:     "generic",
			prefixes: []string{"gpt-"},
		}))
		require.NoError(t, reg.Register(context.Background(), &stubProvider{
			name:     "specialized",
			prefixes: []string{"gpt-4o"},
		}))

		provider, err := reg.GetByModel(context.Background(), "gpt-4o-mini")

		require.NoError(t, err)
		require.Equal(t, "specialized", provider.Name())
	})

	t.Run("should fail with unsupported model when nothing matches", func(t *testing.T) {
		reg := registry.NewRegistry()
		require.NoError(t, reg.Register(context.Background(), &stubProvider{
			name:     "openai",
			models:   []string{"gpt-4o-mini"},
			prefixes: []string{"gpt-"},
		}))

		_, err := reg.GetByModel(context.Background(), "mistral-large")

		require.Error(t, err)
		require.ErrorIs(t, err, domain.ErrUnsupportedModel)
	})

	t.Run("should reject an empty model name", func(t *testing.T) {
		reg := registry.NewRegistry()

		_, err := reg.GetByModel(context.Background(), "")

		require.Error(t, err)
	})
}

func TestRegistry_List(t *testing.T) {
	t.Run("should list registered providers", func(t *testing.T) {
		reg := registry.NewRegistry()
		require.NoError(t, reg.Register(context.Background(), &stubProvider{name: "openai"}))
		require.NoError(t, reg.Register(context.Background(), &stubProvider{name: "anthropic"}))

		names, err := reg.List(context.Background())

		require.NoError(t, err)
		require.ElementsMatch(t, []string{"openai", "anthropic"}, names)
	})
}
