package castellan

import "context"

// Planner generates an ordered list of untyped step records for a task. The
// records are raw planner output: structurally pre-checked but not yet
// validated against the capability registry.
type Planner interface {
	Plan(ctx context.Context, task string, taskContext map[string]any) ([]map[string]any, error)
}

// Validator checks untyped step records against the capability registry and
// produces a typed, safe plan. Implementations must be pure: no I/O, same
// input always yields the same output.
type Validator interface {
	Validate(rawSteps []map[string]any) ([]PlanStep, error)
}

// Executor runs one validated step against its agent and produces the trace
// entry plus step-level warnings. On an agent-reported failure the returned
// error carries the partial trace entry.
type Executor interface {
	ExecuteStep(ctx context.Context, requestID string, step PlanStep) (*TraceEntry, []string, error)
}

// Synthesizer turns the task, plan and execution trace into the final result.
type Synthesizer interface {
	Synthesize(ctx context.Context, task string, plan []PlanStep, trace []TraceEntry) (*SynthesisResult, error)
}

// CompletionClient is the hosted language-model completion service. One
// blocking round trip per call, no streaming.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxOutputTokens int) (string, error)
}

// AgentOperation is one callable operation exposed by an agent. Every
// operation returns the AgentResult envelope; agent-level failures are
// reported as *AgentError.
type AgentOperation func(ctx context.Context, args map[string]any) (*AgentResult, error)

// Agent is an external capability provider exposing a fixed set of named
// operations.
type Agent interface {
	Name() string
	Operations() map[string]AgentOperation
}

// TraceSink stores completed TaskResponses for post-hoc review. Save is
// best-effort: failures are logged by the orchestrator and never fail the
// request.
type TraceSink interface {
	Save(ctx context.Context, response *TaskResponse) error
}
