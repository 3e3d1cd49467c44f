package castellan

import (
	"context"

	"github.com/castellan-ai/castellan/internal/eventbus"
	"github.com/castellan-ai/castellan/internal/logging"
)

// Components holds references to the pipeline components the state
// transitions call into.
type Components struct {
	Planner     Planner
	Validator   Validator
	Executor    Executor
	Synthesizer Synthesizer
	Sink        TraceSink
	Logger      logging.Logger
}

// CreateStateMachine builds the complete state machine for one run.
func CreateStateMachine(components Components, bus eventbus.Bus) *StateMachine {
	sm := NewStateMachine(bus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StatePlanning, createPlanningTransition(components))
	sm.RegisterTransition(StateValidation, createValidationTransition(components))
	sm.RegisterTransition(StateExecution, createExecutionTransition(components))
	sm.RegisterTransition(StateSynthesis, createSynthesisTransition(components))
	sm.RegisterTransition(StateFailed, createFailedTransition(components))
	sm.RegisterTransition(StateComplete, createCompleteTransition(components))
	sm.RegisterTransition(StateCancelled, createCancelledTransition(components))

	return sm
}

func publish(ctx context.Context, bus eventbus.Bus, event eventbus.Event) {
	if bus == nil {
		return
	}
	// Delivery is best-effort; a full bus must not stall the pipeline.
	_ = bus.Publish(ctx, event)
}

// createInitTransition prepares the run and moves straight to planning.
func createInitTransition(components Components) StateTransition {
	return func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error) {
		components.Logger.Info("task accepted", map[string]any{
			"request_id": pCtx.RequestID,
			"task":       pCtx.Task,
		})
		return StatePlanning, nil
	}
}

// createPlanningTransition asks the planner for raw step records.
func createPlanningTransition(components Components) StateTransition {
	return func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error) {
		publish(ctx, bus, eventbus.New(eventbus.EventPlanStarted, pCtx.RequestID, pCtx.Task))

		rawPlan, err := components.Planner.Plan(ctx, pCtx.Task, pCtx.TaskContext)
		if err != nil {
			publish(ctx, bus, eventbus.New(eventbus.EventPlanFailed, pCtx.RequestID, err.Error()))
			publish(ctx, bus, eventbus.New(eventbus.EventTaskFailed, pCtx.RequestID, pCtx.Task).
				WithMetadata("stage", "planning"))
			return StateFailed, err
		}

		publish(ctx, bus, eventbus.New(eventbus.EventPlanGenerated, pCtx.RequestID, rawPlan).
			WithMetadata("step_count", len(rawPlan)))

		pCtx.RawPlan = rawPlan
		return StateValidation, nil
	}
}

// createValidationTransition turns raw planner output into a typed plan.
func createValidationTransition(components Components) StateTransition {
	return func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error) {
		plan, err := components.Validator.Validate(pCtx.RawPlan)
		if err != nil {
			publish(ctx, bus, eventbus.New(eventbus.EventPlanValidationFailed, pCtx.RequestID, err.Error()))
			publish(ctx, bus, eventbus.New(eventbus.EventTaskFailed, pCtx.RequestID, pCtx.Task).
				WithMetadata("stage", "validation"))
			return StateFailed, err
		}

		publish(ctx, bus, eventbus.New(eventbus.EventPlanValidated, pCtx.RequestID, plan).
			WithMetadata("step_count", len(plan)))

		pCtx.Plan = plan
		return StateExecution, nil
	}
}

// createExecutionTransition runs the plan steps in order, fail-fast. A step
// failure that carries a partial trace entry still records that entry before
// the run fails.
func createExecutionTransition(components Components) StateTransition {
	return func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error) {
		for _, step := range pCtx.Plan {
			publish(ctx, bus, eventbus.New(eventbus.EventStepStarted, pCtx.RequestID, step.StepID).
				WithMetadata("provider", step.Provider).
				WithMetadata("operation", step.Operation))

			entry, warnings, err := components.Executor.ExecuteStep(ctx, pCtx.RequestID, step)
			if err != nil {
				if entry != nil {
					pCtx.Trace = append(pCtx.Trace, *entry)
					pCtx.Warnings = append(pCtx.Warnings, entry.Warnings...)
				}
				components.Logger.Error("step failed", map[string]any{
					"request_id": pCtx.RequestID,
					"step_id":    step.StepID,
					"provider":   step.Provider,
					"operation":  step.Operation,
					"error":      err.Error(),
				})
				publish(ctx, bus, eventbus.New(eventbus.EventStepFailed, pCtx.RequestID, step.StepID).
					WithMetadata("error", err.Error()))
				publish(ctx, bus, eventbus.New(eventbus.EventTaskFailed, pCtx.RequestID, pCtx.Task).
					WithMetadata("stage", "execution"))
				return StateFailed, err
			}

			pCtx.Trace = append(pCtx.Trace, *entry)
			pCtx.Warnings = append(pCtx.Warnings, warnings...)
			publish(ctx, bus, eventbus.New(eventbus.EventStepSucceeded, pCtx.RequestID, step.StepID).
				WithMetadata("duration_ms", entry.DurationMS))
		}
		return StateSynthesis, nil
	}
}

// createSynthesisTransition produces the final answer, assembles the
// response, and hands it to the trace sink. Sink failures are logged and
// swallowed: the caller still gets their answer.
func createSynthesisTransition(components Components) StateTransition {
	return func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error) {
		publish(ctx, bus, eventbus.New(eventbus.EventSynthesisStarted, pCtx.RequestID, pCtx.Task).
			WithMetadata("trace_length", len(pCtx.Trace)))

		synthesis, err := components.Synthesizer.Synthesize(ctx, pCtx.Task, pCtx.Plan, pCtx.Trace)
		if err != nil {
			publish(ctx, bus, eventbus.New(eventbus.EventSynthesisFailed, pCtx.RequestID, err.Error()))
			publish(ctx, bus, eventbus.New(eventbus.EventTaskFailed, pCtx.RequestID, pCtx.Task).
				WithMetadata("stage", "synthesis"))
			return StateFailed, err
		}
		pCtx.Synthesis = synthesis
		publish(ctx, bus, eventbus.New(eventbus.EventSynthesisSucceeded, pCtx.RequestID, synthesis.FinalResult.Kind))

		warnings := make([]string, 0, len(pCtx.Warnings)+len(synthesis.Warnings))
		warnings = append(warnings, pCtx.Warnings...)
		warnings = append(warnings, synthesis.Warnings...)

		response := &TaskResponse{
			RequestID:   pCtx.RequestID,
			Task:        pCtx.Task,
			Plan:        pCtx.Plan,
			Trace:       pCtx.Trace,
			FinalResult: synthesis.FinalResult,
			Warnings:    warnings,
		}
		pCtx.setResponse(response)

		if components.Sink != nil {
			if err := components.Sink.Save(ctx, response); err != nil {
				components.Logger.Error("failed to persist trace", map[string]any{
					"request_id": pCtx.RequestID,
					"error":      err.Error(),
				})
				publish(ctx, bus, eventbus.New(eventbus.EventTraceSaveFailed, pCtx.RequestID, err.Error()))
			}
		}

		publish(ctx, bus, eventbus.New(eventbus.EventTaskCompleted, pCtx.RequestID, pCtx.Task).
			WithMetadata("duration_ms", pCtx.GetTotalDuration().Milliseconds()).
			WithMetadata("result_kind", synthesis.FinalResult.Kind))

		pCtx.Complete()
		return StateComplete, nil
	}
}

// createFailedTransition handles the failed state.
func createFailedTransition(_ Components) StateTransition {
	return func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error) {
		// Terminal state. The failure is already recorded in the context.
		return StateFailed, pCtx.LastError
	}
}

// createCompleteTransition handles the complete state.
func createCompleteTransition(_ Components) StateTransition {
	return func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error) {
		// Terminal state, nothing to do.
		return StateComplete, nil
	}
}

// createCancelledTransition handles the cancelled state.
func createCancelledTransition(_ Components) StateTransition {
	return func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error) {
		return StateCancelled, pCtx.LastError
	}
}
