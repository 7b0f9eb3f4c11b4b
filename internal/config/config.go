// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (BUNDLESEARCH_* plus provider API keys)
//  2. Config file (~/.bundlesearch/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive fields are masked in MarshalJSON; validation is fail-fast with
// sentinel errors so callers can check kinds with errors.Is.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model. Its
	// 768-dimension truncation matches the corpus_items schema.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the default completion model.
	DefaultModelName = "gemini-2.5-flash"
)

// SearchConfig tunes retrieval.
type SearchConfig struct {
	DefaultTopK    int     `mapstructure:"default_top_k" json:"default_top_k"`
	MaxTopK        int     `mapstructure:"max_top_k" json:"max_top_k"`
	RelevanceFloor float64 `mapstructure:"relevance_floor" json:"relevance_floor"`
}

// TelemetryConfig tunes the in-memory trace log.
type TelemetryConfig struct {
	Capacity int `mapstructure:"capacity" json:"capacity"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Addr      string `mapstructure:"addr" json:"addr"`
	RateBurst int    `mapstructure:"rate_burst" json:"rate_burst"`
}

// OtelConfig configures OTLP trace export. Disabled when Endpoint is empty.
type OtelConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Corpus storage. When PostgresHost is empty the in-memory index is
	// used, seeded from CorpusFile.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
	CorpusFile       string `mapstructure:"corpus_file" json:"corpus_file"`

	Search    SearchConfig    `mapstructure:"search" json:"search"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Otel      OtelConfig      `mapstructure:"otel" json:"otel"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".bundlesearch")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "bundlesearch")
	viper.SetDefault("postgres_db_name", "bundlesearch")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("search.default_top_k", 5)
	viper.SetDefault("search.max_top_k", 50)
	viper.SetDefault("search.relevance_floor", 0.35)

	viper.SetDefault("telemetry.capacity", 100)

	viper.SetDefault("server.addr", "127.0.0.1:3400")
	viper.SetDefault("server.rate_burst", 60)

	viper.SetDefault("otel.environment", "dev")
	viper.SetDefault("otel.service_name", "bundlesearch")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit plugins,
// not via viper; Validate checks their presence for the selected provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "BUNDLESEARCH_PROVIDER")
	mustBind("model_name", "BUNDLESEARCH_MODEL_NAME")
	mustBind("embedder_model", "BUNDLESEARCH_EMBEDDER_MODEL")
	mustBind("ollama_host", "BUNDLESEARCH_OLLAMA_HOST")

	mustBind("postgres_host", "BUNDLESEARCH_POSTGRES_HOST")
	mustBind("postgres_password", "BUNDLESEARCH_POSTGRES_PASSWORD")
	mustBind("corpus_file", "BUNDLESEARCH_CORPUS_FILE")

	mustBind("search.default_top_k", "BUNDLESEARCH_DEFAULT_TOP_K")
	mustBind("search.max_top_k", "BUNDLESEARCH_MAX_TOP_K")
	mustBind("search.relevance_floor", "BUNDLESEARCH_RELEVANCE_FLOOR")

	mustBind("server.addr", "BUNDLESEARCH_ADDR")

	mustBind("otel.endpoint", "BUNDLESEARCH_OTEL_ENDPOINT")

	mustBind("log_level", "BUNDLESEARCH_LOG_LEVEL")
	mustBind("log_json", "BUNDLESEARCH_LOG_JSON")
}

// parseDatabaseURL overrides the postgres fields from DATABASE_URL when set.
// Takes priority over both the config file and the individual env vars.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", port, err)
		}
		c.PostgresPort = p
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if dbName := filepath.Base(u.Path); dbName != "." && dbName != "/" {
		c.PostgresDBName = dbName
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// UsePostgres reports whether the pgvector-backed corpus store is configured.
func (c *Config) UsePostgres() bool {
	return c.PostgresHost != ""
}

// DatabaseURL builds the postgres connection URL for pgxpool and migrations.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// maskedValue replaces sensitive fields in serialized config. Full-width
// blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// MarshalJSON masks sensitive fields. Update when adding new secrets.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = maskedValue
	}
	return json.Marshal(masked)
}
