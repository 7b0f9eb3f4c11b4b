package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/codecollection/bundlesearch/db"
	"github.com/codecollection/bundlesearch/internal/config"
	"github.com/codecollection/bundlesearch/internal/corpus"
	"github.com/codecollection/bundlesearch/internal/log"
	"github.com/codecollection/bundlesearch/internal/pipeline"
	"github.com/codecollection/bundlesearch/internal/retrieve"
	"github.com/codecollection/bundlesearch/internal/synth"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := provideLogger(cfg)
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit initialization so its
	// TracerProvider picks up the span processor.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	index, pool, err := provideIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Index = index
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	retriever, err := retrieve.New(embedder, index, retrieve.Config{
		DefaultTopK:    cfg.Search.DefaultTopK,
		MaxTopK:        cfg.Search.MaxTopK,
		RelevanceFloor: cfg.Search.RelevanceFloor,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = retriever

	completer := synth.NewResilient(
		synth.NewGenkitCompleter(g, cfg.ModelName, logger),
		nil,
		synth.DefaultBreakerConfig(),
		logger,
	)
	synthesizer, err := synth.New(completer, synth.Config{}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating synthesizer: %w", err)
	}
	a.Synthesizer = synthesizer

	a.Traces = telemetry.NewLog(cfg.Telemetry.Capacity)

	orch, err := pipeline.New(retriever, synthesizer, a.Traces, logger)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Pipeline = orch

	return a, nil
}

// provideLogger builds the shared logger from config.
func provideLogger(cfg *config.Config) log.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}

// provideOtelShutdown registers an OTLP HTTP span exporter on Genkit's
// TracerProvider. Returns a no-op cleanup when tracing is not configured.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.Otel.Endpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Otel.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("OTLP tracing enabled",
		"endpoint", cfg.Otel.Endpoint,
		"service", cfg.Otel.ServiceName,
		"environment", cfg.Otel.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideIndex builds the corpus index: pgvector-backed when postgres is
// configured, in-memory seeded from the corpus file otherwise.
func provideIndex(ctx context.Context, cfg *config.Config, logger log.Logger) (corpus.Index, *pgxpool.Pool, error) {
	if !cfg.UsePostgres() {
		var items []corpus.Item
		if cfg.CorpusFile != "" {
			var err error
			items, err = corpus.LoadFile(cfg.CorpusFile)
			if err != nil {
				return nil, nil, err
			}
		}
		logger.Info("using in-memory corpus index", "items", len(items))
		return corpus.NewMemory(items), nil, nil
	}

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store := corpus.NewStore(pool, logger)
	if cfg.CorpusFile != "" {
		items, err := corpus.LoadFile(cfg.CorpusFile)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.Upsert(ctx, items); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("seeding corpus: %w", err)
		}
	}
	return store, pool, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, nil

	case config.ProviderOpenAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)
		return g, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
		return g, nil
	}
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit.
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		// Auto-registered in Init().
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
