package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codecollection/bundlesearch/api"
	"github.com/codecollection/bundlesearch/internal/app"
	"github.com/codecollection/bundlesearch/internal/config"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

// runServe initializes the application and starts the HTTP API server.
func runServe(addr string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addr == "" {
		addr = cfg.Server.Addr
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

	a.Logger.Info("starting HTTP API server", "version", Version, "addr", addr)

	srv, err := api.NewServer(api.ServerConfig{
		Logger:    a.Logger,
		Pipeline:  a.Pipeline,
		Traces:    a.Traces,
		Pool:      a.DBPool,
		RateBurst: cfg.Server.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}

	if err := srv.Run(ctx, addr); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}
