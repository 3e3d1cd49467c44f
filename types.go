// Package castellan provides the core runtime for turning a natural-language
// task into a validated, traced plan of operations against a fixed set of
// capability agents, and synthesizing a final structured answer.
package castellan

import (
	"encoding/json"
	"fmt"
)

// TaskRequest is the incoming unit of work: a natural-language task plus
// caller-supplied context that is forwarded verbatim to the planner.
type TaskRequest struct {
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
}

// PlanStep is one validated unit of work naming an agent, an operation, and
// its arguments. Step IDs are unique within a plan but execution order follows
// the order steps appear in the plan list, not the ID values.
type PlanStep struct {
	StepID    int            `json:"step_id"`
	Provider  string         `json:"provider"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args"`
}

// TraceEntry records the outcome of one attempted step, including failed ones.
type TraceEntry struct {
	StepID          int            `json:"step_id"`
	Provider        string         `json:"provider"`
	Operation       string         `json:"operation"`
	RequestArgs     map[string]any `json:"request_args"`
	ResponseSummary string         `json:"response_summary"`
	DurationMS      int64          `json:"duration_ms"`
	Truncated       bool           `json:"truncated"`
	Warnings        []string       `json:"warnings"`
}

// FinalResult kinds produced by the synthesizer.
const (
	FinalResultText       = "text"
	FinalResultStructured = "structured"
)

// FinalResult is the synthesized answer to the task.
type FinalResult struct {
	Kind    string         `json:"kind"`
	Content map[string]any `json:"content"`
}

// SynthesisResult is the parsed synthesizer reply: the final result plus any
// synthesis-level warnings.
type SynthesisResult struct {
	FinalResult FinalResult
	Warnings    []string
}

// TaskResponse is the aggregate outcome of one orchestration run. It is
// constructed once, immutable after construction, and handed to the trace
// sink for durable storage.
type TaskResponse struct {
	RequestID   string       `json:"request_id"`
	Task        string       `json:"task"`
	Plan        []PlanStep   `json:"plan"`
	Trace       []TraceEntry `json:"trace"`
	FinalResult FinalResult  `json:"final_result"`
	Warnings    []string     `json:"warnings"`
}

// AgentResult is the required result envelope every agent operation returns.
// A single envelope shape removes any ambiguity between structured and plain
// returns at the executor boundary.
type AgentResult struct {
	Payload   any      `json:"payload"`
	Truncated bool     `json:"truncated"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Summary limits applied when serializing agent payloads for the trace and
// for the synthesis request.
const (
	SummaryLimit     = 1200
	TruncationMarker = "...TRUNCATED..."
)

// TruncateSummary caps s at SummaryLimit characters, appending the truncation
// marker when anything was cut. The bool reports whether truncation happened.
func TruncateSummary(s string) (string, bool) {
	runes := []rune(s)
	if len(runes) <= SummaryLimit {
		return s, false
	}
	return string(runes[:SummaryLimit]) + TruncationMarker, true
}

// SummarizePayload renders an agent payload as a size-bounded JSON summary.
func SummarizePayload(payload any) (string, bool) {
	if payload == nil {
		return "{}", false
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return TruncateSummary(fmt.Sprintf("%v", payload))
	}
	return TruncateSummary(string(serialized))
}
