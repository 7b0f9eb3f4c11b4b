package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codecollection/bundlesearch/internal/app"
	"github.com/codecollection/bundlesearch/internal/config"
	"github.com/codecollection/bundlesearch/internal/mcp"
)

// newMCPCmd creates the mcp command.
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Long: `Start a Model Context Protocol server over stdin/stdout, exposing the
catalog tools (askCatalog, recentTraces, qualityReport, debugQuery) to agent
hosts. All logging goes to stderr, keeping stdout reserved for the protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP()
		},
	}
}

// runMCP initializes the application and serves MCP over stdio.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	server, err := mcp.NewServer(mcp.Config{
		Name:    "bundlesearch",
		Version: Version,
	}, a.Pipeline, a.Traces, a.Logger)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	a.Logger.Info("MCP server ready", "version", Version, "transport", "stdio")

	if err := server.RunStdio(ctx); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
