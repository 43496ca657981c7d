package conversation

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Completer is the LLM collaborator: one prompt in, one text reply out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GenkitCompleter implements Completer over a Genkit instance.
type GenkitCompleter struct {
	g         *genkit.Genkit
	modelName string // provider-qualified, e.g. "ollama/llama3.3"
}

// NewGenkitCompleter creates a completer for the given model.
func NewGenkitCompleter(g *genkit.Genkit, modelName string) *GenkitCompleter {
	return &GenkitCompleter{g: g, modelName: modelName}
}

// Complete generates a single response for the prompt.
func (c *GenkitCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	opts := []ai.GenerateOption{
		ai.WithPrompt("%s", prompt),
	}
	if c.modelName != "" {
		opts = append(opts, ai.WithModelName(c.modelName))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}
