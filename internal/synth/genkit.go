package synth

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/codecollection/bundlesearch/internal/log"
)

// GenkitCompleter adapts a Genkit model to the Completer interface.
// The model name carries the provider prefix Genkit expects, e.g.
// "googleai/gemini-2.5-flash" or "ollama/llama3.3".
type GenkitCompleter struct {
	g         *genkit.Genkit
	modelName string
	logger    log.Logger
}

// NewGenkitCompleter creates a completer backed by the given Genkit instance.
func NewGenkitCompleter(g *genkit.Genkit, modelName string, logger log.Logger) *GenkitCompleter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &GenkitCompleter{g: g, modelName: modelName, logger: logger}
}

// Complete runs one generation with the system instruction and user payload.
func (c *GenkitCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithSystem(system),
		ai.WithPrompt(user),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	c.logger.Debug("completion generated",
		"model", c.modelName,
		"response_length", len(resp.Text()))
	return resp.Text(), nil
}
