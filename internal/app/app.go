// Package app provides application initialization and dependency wiring.
//
// Setup builds the full pipeline from configuration: tracing, storage,
// Genkit with the configured provider, retrieval, synthesis, telemetry, and
// the orchestrator. Entry points (serve, mcp, ask) share this container.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codecollection/bundlesearch/internal/config"
	"github.com/codecollection/bundlesearch/internal/corpus"
	"github.com/codecollection/bundlesearch/internal/log"
	"github.com/codecollection/bundlesearch/internal/pipeline"
	"github.com/codecollection/bundlesearch/internal/retrieve"
	"github.com/codecollection/bundlesearch/internal/synth"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool // nil when the corpus is memory-backed
	Index    corpus.Index

	Retriever   *retrieve.Retriever
	Synthesizer *synth.Synthesizer
	Traces      *telemetry.Log
	Pipeline    *pipeline.Orchestrator

	otelCleanup func()
}

// Close gracefully shuts down all resources. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
