// Package cmd implements the bundlesearch command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bundlesearch",
	Short: "Conversational search over the CodeBundle catalog",
	Long: `bundlesearch answers natural-language questions about the CodeBundle
catalog, grounded in semantic search over an embedded corpus.

Run "bundlesearch serve" for the HTTP API, "bundlesearch mcp" for the MCP
stdio server, or "bundlesearch ask" for a one-shot question.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newVersionCmd())
}
