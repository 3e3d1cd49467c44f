// Package synthesizer turns a task, its plan and its execution trace into the
// final answer by asking the language model for a structured synthesis reply.
package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/llmjson"
)

const (
	// Slightly above zero so the prose answer does not read like a template,
	// while staying effectively deterministic for the structured fields.
	synthesisTemperature     = 0.1
	synthesisMaxOutputTokens = 1200

	systemPrompt = `You are a synthesis engine. Given a task, the plan that was executed, and the execution trace, produce the final answer as a single JSON object: {"final_result": {"kind": "text"|"structured", "content": {...}}, "warnings": ["..."]}. For kind "text", content must contain a "text" field with the answer. Base the answer only on the trace. Reply with JSON only, no commentary.`
)

// LLMSynthesizer produces final results through a completion client.
type LLMSynthesizer struct {
	client castellan.CompletionClient
}

// New builds a synthesizer over the given completion client.
func New(client castellan.CompletionClient) *LLMSynthesizer {
	return &LLMSynthesizer{client: client}
}

// Synthesize requests the final result for a completed run.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, task string, plan []castellan.PlanStep, trace []castellan.TraceEntry) (*castellan.SynthesisResult, error) {
	userPrompt, err := buildPrompt(task, plan, trace)
	if err != nil {
		return nil, castellan.NewSynthesisError("failed to build synthesis request", err)
	}

	reply, err := s.client.Complete(ctx, systemPrompt, userPrompt, synthesisTemperature, synthesisMaxOutputTokens)
	if err != nil {
		return nil, castellan.NewSynthesisError("completion request failed", err)
	}

	return parseReply(reply)
}

// buildPrompt serializes the synthesis request. Trace summaries are re-capped
// at the summary limit so the request stays bounded even if an entry arrived
// from a sink or an older producer without the cap applied.
func buildPrompt(task string, plan []castellan.PlanStep, trace []castellan.TraceEntry) (string, error) {
	bounded := make([]castellan.TraceEntry, len(trace))
	for i, entry := range trace {
		summary, truncated := castellan.TruncateSummary(entry.ResponseSummary)
		entry.ResponseSummary = summary
		entry.Truncated = entry.Truncated || truncated
		bounded[i] = entry
	}

	payload := struct {
		Task  string                 `json:"task"`
		Plan  []castellan.PlanStep   `json:"plan"`
		Trace []castellan.TraceEntry `json:"trace"`
	}{Task: task, Plan: plan, Trace: bounded}

	serialized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(serialized), nil
}

func parseReply(reply string) (*castellan.SynthesisResult, error) {
	obj, err := llmjson.DecodeObject(reply)
	if err != nil {
		return nil, castellan.NewSynthesisError("synthesis reply is not a JSON object", err)
	}

	rawResult, ok := obj["final_result"]
	if !ok {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, castellan.NewSynthesisError(
			fmt.Sprintf("synthesis reply has no 'final_result' field, got keys: %s", strings.Join(keys, ", ")), nil)
	}
	resultObj, ok := rawResult.(map[string]any)
	if !ok {
		return nil, castellan.NewSynthesisError("'final_result' is not an object", nil)
	}

	kind, _ := resultObj["kind"].(string)
	if kind != castellan.FinalResultText && kind != castellan.FinalResultStructured {
		return nil, castellan.NewSynthesisError(
			fmt.Sprintf("final_result.kind must be %q or %q, got %q",
				castellan.FinalResultText, castellan.FinalResultStructured, kind), nil)
	}

	content, ok := resultObj["content"].(map[string]any)
	if !ok {
		return nil, castellan.NewSynthesisError("final_result.content is not an object", nil)
	}

	result := &castellan.SynthesisResult{
		FinalResult: castellan.FinalResult{Kind: kind, Content: content},
	}
	if rawWarnings, ok := obj["warnings"].([]any); ok {
		for _, w := range rawWarnings {
			if s, ok := w.(string); ok {
				result.Warnings = append(result.Warnings, s)
			}
		}
	}
	// Content is an open mapping; the prompt asks for a "text" field on text
	// results but its absence is not a contract violation.
	if kind == castellan.FinalResultText {
		if _, ok := content["text"].(string); !ok {
			result.Warnings = append(result.Warnings, "text result has no 'text' field in content")
		}
	}
	return result, nil
}
