// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or /etc/tidegraph/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can match failures with
// errors.Is and report which setting is broken.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidRateLimit indicates the model rate limit settings are invalid.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// DefaultEmbedderModel is the default Gemini embedder model. Output is
// truncated to 768 dimensions to match the chunk and entity vector columns.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
type Config struct {
	// HTTP server
	ListenAddr string `mapstructure:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy"`

	// Model provider configuration. ModelName answers, FastModelName handles
	// cheap internal calls (question refinement, intent decomposition,
	// reranking, titles); when empty it falls back to ModelName.
	Provider      string  `mapstructure:"provider"`
	ModelName     string  `mapstructure:"model_name"`
	FastModelName string  `mapstructure:"fast_model_name"`
	Temperature   float32 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host"`

	// Embeddings
	EmbedderModel string `mapstructure:"embedder_model"`

	// Model call rate limiting
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`

	// Storage
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Tracing. OTLPEndpoint enables span export; TraceViewerBase is the base
	// URL turn trace links are built from. Both empty disables tracing.
	OTLPEndpoint    string `mapstructure:"otlp_endpoint"`
	TraceViewerBase string `mapstructure:"trace_viewer_base"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/tidegraph")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("trust_proxy", false)

	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("fast_model_name", "")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	viper.SetDefault("rate_limit_per_second", 10.0)
	viper.SetDefault("rate_limit_burst", 30)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "tidegraph")
	viper.SetDefault("postgres_password", "tidegraph_dev_password")
	viper.SetDefault("postgres_db_name", "tidegraph")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("trace_viewer_base", "")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", true)
}

// bindEnvVariables binds environment overrides explicitly. Provider API keys
// (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by the model plugins,
// not via Viper.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("listen_addr", "TIDEGRAPH_LISTEN_ADDR")
	mustBind("trust_proxy", "TIDEGRAPH_TRUST_PROXY")
	mustBind("provider", "TIDEGRAPH_PROVIDER")
	mustBind("model_name", "TIDEGRAPH_MODEL_NAME")
	mustBind("fast_model_name", "TIDEGRAPH_FAST_MODEL_NAME")
	mustBind("ollama_host", "TIDEGRAPH_OLLAMA_HOST")
	mustBind("embedder_model", "TIDEGRAPH_EMBEDDER_MODEL")
	mustBind("postgres_host", "TIDEGRAPH_POSTGRES_HOST")
	mustBind("postgres_port", "TIDEGRAPH_POSTGRES_PORT")
	mustBind("postgres_user", "TIDEGRAPH_POSTGRES_USER")
	mustBind("postgres_password", "TIDEGRAPH_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "TIDEGRAPH_POSTGRES_DB")
	mustBind("postgres_ssl_mode", "TIDEGRAPH_POSTGRES_SSL_MODE")
	mustBind("otlp_endpoint", "TIDEGRAPH_OTLP_ENDPOINT")
	mustBind("trace_viewer_base", "TIDEGRAPH_TRACE_VIEWER_BASE")
	mustBind("log_level", "TIDEGRAPH_LOG_LEVEL")
	mustBind("log_json", "TIDEGRAPH_LOG_JSON")
}

// FullModelName returns the provider-qualified name for name.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If name already contains a "/", it is returned as-is.
func (c *Config) FullModelName(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name
		}
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + name
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + name
	default:
		return ProviderGoogleAI + "/" + name
	}
}

// FastModel returns the model used for cheap internal calls.
func (c *Config) FastModel() string {
	if c.FastModelName != "" {
		return c.FastModelName
	}
	return c.ModelName
}

// DatabaseURL builds the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		c.PostgresDBName, c.PostgresSSLMode)
}
