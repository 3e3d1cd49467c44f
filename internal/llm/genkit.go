// Package llm provides the completion client backing the planner and the
// synthesizer, plus the gate that serializes access to the model.
package llm

import (
	"context"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/castellan-ai/castellan"
)

// GenkitClient is a CompletionClient backed by a Genkit instance. Each call is
// one blocking generation round trip against the configured default model.
type GenkitClient struct {
	g *genkit.Genkit
}

// NewGenkitClient wraps an initialized Genkit instance.
func NewGenkitClient(g *genkit.Genkit) (*GenkitClient, error) {
	if g == nil {
		return nil, castellan.NewConfigurationError("genkit instance is required", nil)
	}
	return &GenkitClient{g: g}, nil
}

// Complete implements castellan.CompletionClient.
func (c *GenkitClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxOutputTokens int) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithSystem(systemPrompt),
		ai.WithPrompt(userPrompt),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxOutputTokens,
		}),
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}
