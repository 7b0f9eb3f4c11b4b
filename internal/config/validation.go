package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidTopK indicates a retrieval breadth value is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidRelevanceFloor indicates the relevance floor is out of range.
	ErrInvalidRelevanceFloor = errors.New("invalid relevance floor")

	// ErrInvalidTelemetryCapacity indicates the trace log capacity is invalid.
	ErrInvalidTelemetryCapacity = errors.New("invalid telemetry capacity")

	// ErrInvalidServerAddr indicates the HTTP listen address is invalid.
	ErrInvalidServerAddr = errors.New("invalid server address")
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required",
				ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (supported: %s, %s, %s)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOllama, ProviderOpenAI)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.UsePostgres() {
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: must be between 1 and 65535, got %d",
				ErrInvalidPostgresPort, c.PostgresPort)
		}
		if c.PostgresDBName == "" {
			return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
		}
		// Modern SSL modes only; allow/prefer are MITM vulnerable.
		validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
		if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
			return fmt.Errorf("%w: %q (supported: %v)",
				ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
		}
	}

	if c.Search.DefaultTopK < 1 {
		return fmt.Errorf("%w: default_top_k must be at least 1, got %d",
			ErrInvalidTopK, c.Search.DefaultTopK)
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("%w: max_top_k %d is below default_top_k %d",
			ErrInvalidTopK, c.Search.MaxTopK, c.Search.DefaultTopK)
	}
	if c.Search.RelevanceFloor < 0 || c.Search.RelevanceFloor >= 1 {
		return fmt.Errorf("%w: must be in [0, 1), got %.2f",
			ErrInvalidRelevanceFloor, c.Search.RelevanceFloor)
	}

	if c.Telemetry.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be at least 1, got %d",
			ErrInvalidTelemetryCapacity, c.Telemetry.Capacity)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("%w: addr cannot be empty", ErrInvalidServerAddr)
	}

	return nil
}
