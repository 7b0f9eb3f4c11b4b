package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codecollection/bundlesearch/internal/app"
	"github.com/codecollection/bundlesearch/internal/config"
	"github.com/codecollection/bundlesearch/internal/pipeline"
)

// newAskCmd creates the ask command.
func newAskCmd() *cobra.Command {
	var (
		topK     int
		asJSON   bool
		question string
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the catalog a one-shot question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question = strings.Join(args, " ")
			return runAsk(question, topK, asJSON)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum catalog entries to retrieve (0 = default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

// runAsk sends one question through the pipeline and prints the answer.
func runAsk(question string, topK int, asJSON bool) error {
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

	resp, err := a.Pipeline.Ask(ctx, pipeline.Request{
		Question:     question,
		ContextLimit: topK,
	})
	if err != nil {
		return fmt.Errorf("asking question: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Println(resp.Answer)
	if len(resp.RelevantTasks) > 0 {
		fmt.Println("\nMatched CodeBundles:")
		for _, item := range resp.RelevantTasks {
			fmt.Printf("  %d. %s (%.2f)", item.Rank, item.Name, item.Relevance)
			if item.SourceURL != "" {
				fmt.Printf(" %s", item.SourceURL)
			}
			fmt.Println()
		}
	}
	return nil
}
