// Package planner asks the language model for an ordered operation plan. The
// planner trusts nothing the model says: it only checks that the reply is
// shaped like a plan, and leaves every semantic decision to the validator.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/capability"
	"github.com/castellan-ai/castellan/internal/cache"
	"github.com/castellan-ai/castellan/internal/llmjson"
)

const (
	// Planning runs at temperature zero: the plan is a program, not prose.
	planTemperature     = 0.0
	planMaxOutputTokens = 800

	systemPrompt = `You are a planning engine. Given a task and a list of available providers with their operations, produce a plan as a JSON array of steps. Each step is an object with integer "step_id", string "provider", string "operation", and object "args". Use only the listed providers and operations. Steps run in array order. Reply with JSON only, no commentary.`
)

// requiredStepKeys are checked structurally before the plan ever reaches the
// validator, so an obviously malformed reply is reported as a planning
// failure, not a validation failure.
var requiredStepKeys = []string{"step_id", "provider", "operation", "args"}

// LLMPlanner generates plans through a completion client.
type LLMPlanner struct {
	client   castellan.CompletionClient
	registry capability.Registry
	cache    *cache.PlanCache
}

// Option configures an LLMPlanner.
type Option func(*LLMPlanner)

// WithCache enables plan caching. Planning is deterministic at temperature
// zero, so identical requests can reuse the previous reply.
func WithCache(c *cache.PlanCache) Option {
	return func(p *LLMPlanner) {
		p.cache = c
	}
}

// New builds a planner over the given completion client and registry.
func New(client castellan.CompletionClient, registry capability.Registry, options ...Option) *LLMPlanner {
	p := &LLMPlanner{client: client, registry: registry}
	for _, option := range options {
		option(p)
	}
	return p
}

// Plan requests a plan for the task and returns the raw step records.
func (p *LLMPlanner) Plan(ctx context.Context, task string, taskContext map[string]any) ([]map[string]any, error) {
	cacheKey := cache.Key(task, taskContext)
	if p.cache != nil {
		if steps, err := p.cache.Get(ctx, cacheKey); err == nil {
			return steps, nil
		}
	}

	userPrompt, err := p.buildPrompt(task, taskContext)
	if err != nil {
		return nil, castellan.NewPlanGenerationError("failed to build planning request", err)
	}

	reply, err := p.client.Complete(ctx, systemPrompt, userPrompt, planTemperature, planMaxOutputTokens)
	if err != nil {
		return nil, castellan.NewPlanGenerationError("completion request failed", err)
	}

	steps, err := llmjson.DecodePlan(reply)
	if err != nil {
		return nil, castellan.NewPlanGenerationError("planner reply is not a plan", err)
	}

	for i, step := range steps {
		for _, key := range requiredStepKeys {
			if _, ok := step[key]; !ok {
				return nil, castellan.NewPlanGenerationError(
					fmt.Sprintf("plan step %d is missing %q", i, key), nil)
			}
		}
		if argsField, ok := step["args"]; ok && argsField != nil {
			if _, isObject := argsField.(map[string]any); !isObject {
				return nil, castellan.NewPlanGenerationError(
					fmt.Sprintf("plan step %d: args is not an object", i), nil)
			}
		}
	}

	if p.cache != nil {
		_ = p.cache.Set(ctx, cacheKey, steps)
	}
	return steps, nil
}

// buildPrompt serializes the planning request. The provider list comes from
// the registry in sorted order so the prompt is byte-stable for a given task.
func (p *LLMPlanner) buildPrompt(task string, taskContext map[string]any) (string, error) {
	payload := struct {
		Task               string                           `json:"task"`
		Context            map[string]any                   `json:"context,omitempty"`
		AvailableProviders []capability.ProviderDescription `json:"available_providers"`
	}{
		Task:               task,
		Context:            taskContext,
		AvailableProviders: p.registry.Describe(),
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(serialized), nil
}
