// Package executor runs validated plan steps against their agents, one at a
// time, and records a trace entry for every attempt. Execution is strictly
// sequential and fail-fast: the first failing step ends the run, and its
// partial trace entry travels with the error.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/castellan-ai/castellan"
)

// StepExecutor dispatches steps to agent operations by name. The agent map is
// fixed at construction; a step naming an agent or operation outside the map
// is a wiring defect, not a step failure, and carries no trace entry.
type StepExecutor struct {
	agents  map[string]castellan.Agent
	metrics ExecutorMetrics
}

// New builds a StepExecutor over the given agents, keyed by provider name.
func New(agents []castellan.Agent) (*StepExecutor, error) {
	byName := make(map[string]castellan.Agent, len(agents))
	for _, agent := range agents {
		if agent == nil {
			return nil, castellan.NewConfigurationError("nil agent supplied", nil)
		}
		name := agent.Name()
		if _, dup := byName[name]; dup {
			return nil, castellan.NewConfigurationError(
				fmt.Sprintf("duplicate agent registered for provider %q", name), nil)
		}
		byName[name] = agent
	}
	return &StepExecutor{agents: byName}, nil
}

// ExecuteStep runs one step and returns its trace entry and step warnings.
//
// Failure classes are kept distinct: a missing agent or operation returns a
// nil entry (nothing ran), an agent-reported *AgentError becomes a terminal
// trace entry attached to the returned error, and any other agent error
// propagates unchanged so infrastructure faults stay visible as themselves.
func (e *StepExecutor) ExecuteStep(ctx context.Context, requestID string, step castellan.PlanStep) (*castellan.TraceEntry, []string, error) {
	agent, ok := e.agents[step.Provider]
	if !ok {
		return nil, nil, castellan.NewTaskExecutionError(
			fmt.Sprintf("no agent registered for provider %q", step.Provider), nil, nil)
	}
	operation, ok := agent.Operations()[step.Operation]
	if !ok {
		return nil, nil, castellan.NewTaskExecutionError(
			fmt.Sprintf("agent %q does not implement operation %q", step.Provider, step.Operation), nil, nil)
	}

	start := time.Now()
	result, err := operation(ctx, step.Args)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		entry, execErr := e.failureEntry(step, duration, err)
		if execErr != nil {
			e.metrics.recordFailure(duration)
			return entry, nil, execErr
		}
		// Not an agent-level failure. Propagate unchanged.
		e.metrics.recordFailure(duration)
		return nil, nil, err
	}

	if result == nil {
		e.metrics.recordFailure(duration)
		return nil, nil, castellan.NewTaskExecutionError(
			fmt.Sprintf("agent %q operation %q returned no result envelope", step.Provider, step.Operation), nil, nil)
	}

	summary, summaryTruncated := castellan.SummarizePayload(result.Payload)
	entry := &castellan.TraceEntry{
		StepID:          step.StepID,
		Provider:        step.Provider,
		Operation:       step.Operation,
		RequestArgs:     step.Args,
		ResponseSummary: summary,
		DurationMS:      duration,
		Truncated:       result.Truncated || summaryTruncated,
		Warnings:        result.Warnings,
	}
	e.metrics.recordSuccess(duration)
	return entry, result.Warnings, nil
}

// failureEntry converts an agent-reported failure into a terminal trace entry.
// Returns (nil, nil) for errors that are not *AgentError.
func (e *StepExecutor) failureEntry(step castellan.PlanStep, duration int64, err error) (*castellan.TraceEntry, error) {
	agentErr, ok := castellan.AsAgentError(err)
	if !ok {
		return nil, nil
	}
	entry := &castellan.TraceEntry{
		StepID:          step.StepID,
		Provider:        step.Provider,
		Operation:       step.Operation,
		RequestArgs:     step.Args,
		ResponseSummary: agentErr.Error(),
		DurationMS:      duration,
		Warnings:        []string{agentErr.Message},
	}
	return entry, castellan.NewTaskExecutionError(
		fmt.Sprintf("step %d failed: %s.%s", step.StepID, step.Provider, step.Operation), entry, agentErr)
}

// Metrics returns a snapshot of execution counters.
func (e *StepExecutor) Metrics() ExecutorMetrics {
	return e.metrics.Copy()
}
