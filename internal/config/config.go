// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (SHOPTALK_* prefix, runtime override)
//  2. Config file (~/.shoptalk/config.yaml)
//  3. Default values
//
// Main categories:
//   - AI: provider, model, temperature, max tokens, embedder
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: top-k, minimum score, per-retriever timeout
//   - Server: listen address, CORS, rate limiting
//   - Observability: OTLP trace export to a local Datadog agent
//
// Security: the PostgreSQL password is masked in MarshalJSON; the config
// directory is created with 0750 permissions.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTopK indicates the semantic retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is unknown.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
)

// Retrieval bounds. TopK is clamped so a single request can never drag an
// unbounded amount of chunk text into the prompt.
const (
	MinTopK = 1
	MaxTopK = 10

	// DefaultMaxHistoryTurns is the default number of turns kept in the
	// prompt context before token-budget truncation applies.
	DefaultMaxHistoryTurns = 10
)

// DatadogConfig configures OTLP trace export to a local Datadog agent.
// Disabled unless Enabled is set; the agent handles auth and forwarding.
type DatadogConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; update it when
// adding passwords, API keys or tokens.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`       // "ollama" (default), "googleai", "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"`   // e.g. "mistral:7b-instruct", "gemini-2.5-flash"
	Temperature float32 `mapstructure:"temperature" json:"temperature"` // 0..2
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedding configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Conversation history configuration
	MaxHistoryTurns int `mapstructure:"max_history_turns" json:"max_history_turns"`

	// Retrieval configuration
	RetrievalTopK     int           `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	RetrievalMinScore float32       `mapstructure:"retrieval_min_score" json:"retrieval_min_score"`
	RetrievalTimeout  time.Duration `mapstructure:"retrieval_timeout" json:"retrieval_timeout"`

	// Generation concurrency: how many requests may hold the model at once.
	// The model is loaded exactly once per process regardless of this value.
	MaxConcurrentGenerations int `mapstructure:"max_concurrent_generations" json:"max_concurrent_generations"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration. RatePerSecond of zero disables rate limiting.
	ListenAddr    string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins   []string `mapstructure:"cors_origins" json:"cors_origins"`
	RatePerSecond float64  `mapstructure:"rate_per_second" json:"rate_per_second"`
	RateBurst     int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability configuration
	Datadog DatadogConfig `mapstructure:"datadog" json:"datadog"`
}

// MarshalJSON masks sensitive fields when the config is serialized,
// e.g. for debug logging.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "****"
	}
	b, err := json.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return b, nil
}

// Load reads configuration from defaults, an optional config file and
// SHOPTALK_* environment variables, then validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SHOPTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := configDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			// No config file is fine; defaults + env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings (cloud convention).
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if err := cfg.applyDatabaseURL(dbURL); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults installs a configuration that works against a local Ollama
// and a local PostgreSQL with the pgvector extension.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOllama)
	v.SetDefault("model_name", "mistral:7b-instruct")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("embedder_model", "nomic-embed-text")
	v.SetDefault("max_history_turns", DefaultMaxHistoryTurns)
	v.SetDefault("retrieval_top_k", 4)
	v.SetDefault("retrieval_min_score", 0.25)
	v.SetDefault("retrieval_timeout", 10*time.Second)
	v.SetDefault("max_concurrent_generations", 1)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "shoptalk")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "shoptalk")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("rate_per_second", 20)
	v.SetDefault("rate_burst", 60)
	v.SetDefault("datadog.enabled", false)
}

// configDir returns ~/.shoptalk, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".shoptalk")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Validate checks all configuration values against their allowed ranges.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderOllama, ProviderGoogleAI, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (want 0..2)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens <= 0 || c.MaxTokens > 32768 {
		return fmt.Errorf("%w: %d (want 1..32768)", ErrInvalidMaxTokens, c.MaxTokens)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEmbedderModel)
	}
	if c.RetrievalTopK < MinTopK || c.RetrievalTopK > MaxTopK {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidTopK, c.RetrievalTopK, MinTopK, MaxTopK)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPostgresDBName)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}
