package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/nmelo/metergate/internal/provider/anthropic"
	"github.com/nmelo/metergate/internal/provider/openai"
)

// Config represents the gateway configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Billing   BillingConfig
	Storage   StorageConfig
	Redis     RedisConfig
	OpenAI    openai.Config
	Anthropic anthropic.Config
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"300"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,X-API-Key"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// BillingConfig contains the billing policy knobs. The markup applies
// uniformly to every billed amount; the safety factor widens the
// pre-execution balance gate beyond the raw estimate.
type BillingConfig struct {
	MarkupFactor     string `env:"MARKUP_FACTOR"            envDefault:"1.25"`
	SafetyFactor     string `env:"BALANCE_SAFETY_FACTOR"    envDefault:"2.0"`
	MockOutputTokens int    `env:"MOCK_OUTPUT_TOKENS"       envDefault:"50"`
	ProviderTimeout  int    `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"120"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Backend      string `env:"STORAGE_BACKEND"         envDefault:"postgres"` // postgres or memory
	DSN          string `env:"POSTGRES_DSN"`
	MaxOpenConns int    `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns int    `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"2"`
}

// RedisConfig configures the optional usage event buffer. An empty
// address disables it; events then go to the log-backed bus.
type RedisConfig struct {
	Addr          string `env:"REDIS_ADDR"`
	Password      string `env:"REDIS_PASSWORD"`
	DB            int    `env:"REDIS_DB"              envDefault:"0"`
	EventQueueKey string `env:"REDIS_EVENT_QUEUE_KEY" envDefault:"metergate:events"`
	EventQueueMax int64  `env:"REDIS_EVENT_QUEUE_MAX" envDefault:"100000"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*BillingConfig
	*StorageConfig
	*RedisConfig
	OpenAI    *openai.Config
	Anthropic *anthropic.Config
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Billing,
		&cfg.Storage,
		&cfg.Redis,
		&cfg.OpenAI,
		&cfg.Anthropic,
	}
}
