// Package llmjson decodes JSON out of language-model replies. Model output is
// not guaranteed to be bare JSON: replies may be wrapped in markdown code
// fences, and plans may arrive as a bare array or as an object with a "plan"
// field. All of that tolerance lives here, in one auditable place, so it
// cannot silently widen elsewhere in the codebase.
package llmjson

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a leading markdown code-fence line (with or without a
// language tag) and a trailing fence line. Input without fences is returned
// unchanged.
func StripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// DecodePlan parses a planner reply into an ordered list of untyped step
// records. Accepted top-level shapes: a bare JSON array, or a JSON object
// containing a "plan" array. Each element must be a JSON object.
func DecodePlan(raw string) ([]map[string]any, error) {
	cleaned := StripFences(raw)

	var parsed any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("reply is not valid JSON: %w", err)
	}

	var elements []any
	switch v := parsed.(type) {
	case []any:
		elements = v
	case map[string]any:
		planField, ok := v["plan"]
		if !ok {
			return nil, fmt.Errorf("reply object has no 'plan' field")
		}
		elements, ok = planField.([]any)
		if !ok {
			return nil, fmt.Errorf("'plan' field is not an array")
		}
	default:
		return nil, fmt.Errorf("reply must be an array or an object with a 'plan' field, got %T", parsed)
	}

	steps := make([]map[string]any, 0, len(elements))
	for i, element := range elements {
		step, ok := element.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("plan step %d is not an object", i)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// DecodeObject parses a reply as a single JSON object, stripping fences first.
func DecodeObject(raw string) (map[string]any, error) {
	cleaned := StripFences(raw)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("reply is not a valid JSON object: %w", err)
	}
	return parsed, nil
}
