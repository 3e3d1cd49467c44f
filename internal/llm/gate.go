package llm

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/castellan-ai/castellan"
)

// Gate wraps a CompletionClient with a weighted semaphore so at most width
// completion calls are in flight at once. The planner and synthesizer share
// one gate, which keeps a burst of concurrent requests from stampeding the
// model endpoint. Acquire respects context cancellation, so a caller whose
// deadline expires while queued gets the context error, not a slot.
type Gate struct {
	inner castellan.CompletionClient
	sem   *semaphore.Weighted
}

// NewGate wraps inner with a gate of the given width. Width must be positive.
func NewGate(inner castellan.CompletionClient, width int64) (*Gate, error) {
	if inner == nil {
		return nil, castellan.NewConfigurationError("completion client is required", nil)
	}
	if width < 1 {
		return nil, castellan.NewConfigurationError("completion gate width must be at least 1", nil)
	}
	return &Gate{inner: inner, sem: semaphore.NewWeighted(width)}, nil
}

// Complete implements castellan.CompletionClient.
func (g *Gate) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxOutputTokens int) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)
	return g.inner.Complete(ctx, systemPrompt, userPrompt, temperature, maxOutputTokens)
}
