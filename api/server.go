// Package api exposes the conversational pipeline and its debug surface over
// HTTP.
//
// Endpoints:
//
//	POST /api/chat            answer one question
//	GET  /api/debug/traces    recent telemetry records
//	GET  /api/debug/analysis  aggregate quality report
//	POST /api/debug/dry-run   full pipeline run with trace and diagnosis
//	GET  /health              liveness probe
//	GET  /ready               readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - ratelimit.go: per-IP token bucket
//   - health.go: health check endpoints (/health, /ready)
//   - chat.go: chat endpoint
//   - debug.go: telemetry and diagnosis endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codecollection/bundlesearch/internal/log"
	"github.com/codecollection/bundlesearch/internal/pipeline"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response. Answer
	// synthesis can take a while, so this is generous.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Pipeline is the slice of the orchestrator the handlers consume.
type Pipeline interface {
	Ask(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	DryRun(ctx context.Context, req pipeline.Request) (pipeline.Diagnosis, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger   log.Logger
	Pipeline Pipeline       // Required
	Traces   *telemetry.Log // Required: backs the debug endpoints
	Pool     *pgxpool.Pool  // Optional: nil skips the database readiness check
	// RateBurst is the per-IP token bucket size (0 = default 60, refilled
	// at 1 token/sec).
	RateBurst int
}

// Server is the HTTP server for the catalog chat API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
	rl     *rateLimiter
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Traces == nil {
		return nil, errors.New("telemetry log is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:    mux,
		logger: logger,
		rl:     newRateLimiter(1.0, burst),
	}

	newHealthHandler(cfg.Pool, logger).registerRoutes(mux)
	newChatHandler(cfg.Pipeline, logger).registerRoutes(mux)
	newDebugHandler(cfg.Pipeline, cfg.Traces, logger).registerRoutes(mux)

	return s, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → rate limit → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
		rateLimitMiddleware(s.rl, s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
