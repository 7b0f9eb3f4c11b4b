// Package mcp exposes the catalog pipeline over the Model Context Protocol,
// so agent hosts can ask the catalog questions and inspect answer quality.
//
// Tools:
//   - askCatalog: answer one question against the CodeBundle catalog
//   - recentTraces: recent telemetry records
//   - qualityReport: aggregate quality report over a trailing window
//   - debugQuery: full pipeline run with trace and detected issues
//
// The server speaks over stdio by default, which is why nothing in this
// module logs to stdout.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codecollection/bundlesearch/internal/log"
	"github.com/codecollection/bundlesearch/internal/pipeline"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

// Pipeline is the slice of the orchestrator the tools consume.
type Pipeline interface {
	Ask(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	DryRun(ctx context.Context, req pipeline.Request) (pipeline.Diagnosis, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// Server wraps the MCP SDK server around the pipeline and telemetry log.
type Server struct {
	mcpServer *mcp.Server
	pipeline  Pipeline
	traces    *telemetry.Log
	logger    log.Logger
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(cfg Config, p Pipeline, traces *telemetry.Log, logger log.Logger) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if traces == nil {
		return nil, fmt.Errorf("telemetry log is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		pipeline:  p,
		traces:    traces,
		logger:    logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the given transport. Blocking.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// RunStdio serves the MCP protocol over stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}
