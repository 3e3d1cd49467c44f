package castellan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-ai/castellan/internal/eventbus"
)

// AsyncStatus reports the progress of a background run.
type AsyncStatus struct {
	ExecutionID  string        `json:"execution_id"`
	Task         string        `json:"task"`
	CurrentState ProcessState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// ExecuteAsync starts a run in the background and returns its execution ID.
// The run detaches from the caller's context; cancel it with CancelAsync.
func (c *Castellan) ExecuteAsync(ctx context.Context, request TaskRequest) (string, error) {
	executionID := uuid.New().String()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	pCtx := NewProcessContext(executionID, request.Task, request.Context)
	pCtx.StateData["cancel"] = cancel

	c.asyncRunsMu.Lock()
	c.asyncRuns[executionID] = pCtx
	c.asyncRunsMu.Unlock()

	go func() {
		defer cancel()
		if _, err := c.createStateMachine().Execute(runCtx, pCtx); err != nil {
			c.logger.Error("async run failed", map[string]any{
				"execution_id": executionID,
				"stage":        pCtx.ErrorStage,
				"error":        err.Error(),
			})
		}
	}()

	return executionID, nil
}

// GetAsyncStatus retrieves the current status of a background run.
func (c *Castellan) GetAsyncStatus(executionID string) (*AsyncStatus, error) {
	c.asyncRunsMu.RLock()
	defer c.asyncRunsMu.RUnlock()

	pCtx, exists := c.asyncRuns[executionID]
	if !exists {
		return nil, fmt.Errorf("execution %q not found", executionID)
	}

	state := pCtx.State()
	status := &AsyncStatus{
		ExecutionID:  executionID,
		Task:         pCtx.Task,
		CurrentState: state,
		StartTime:    pCtx.StartTime,
		Duration:     pCtx.GetTotalDuration(),
		IsComplete:   state == StateComplete,
		HasError:     state == StateFailed,
	}
	if lastErr, stage := pCtx.Failure(); lastErr != nil {
		status.ErrorMessage = lastErr.Error()
		status.ErrorStage = stage
	}
	return status, nil
}

// GetAsyncResult retrieves the response of a completed background run.
// Returns an error while the run is still in progress or if it failed.
func (c *Castellan) GetAsyncResult(executionID string) (*TaskResponse, error) {
	c.asyncRunsMu.RLock()
	defer c.asyncRunsMu.RUnlock()

	pCtx, exists := c.asyncRuns[executionID]
	if !exists {
		return nil, fmt.Errorf("execution %q not found", executionID)
	}

	switch state := pCtx.State(); state {
	case StateComplete:
		return pCtx.Result(), nil
	case StateFailed, StateCancelled:
		lastErr, stage := pCtx.Failure()
		return nil, fmt.Errorf("execution failed during stage %q: %w", stage, lastErr)
	default:
		return nil, fmt.Errorf("execution is still in progress (current state: %s)", state)
	}
}

// CancelAsync cancels a background run. Returns true if it was cancelled,
// false if it had already reached a terminal state.
func (c *Castellan) CancelAsync(executionID string) (bool, error) {
	c.asyncRunsMu.Lock()
	defer c.asyncRunsMu.Unlock()

	pCtx, exists := c.asyncRuns[executionID]
	if !exists {
		return false, fmt.Errorf("execution %q not found", executionID)
	}
	if pCtx.IsTerminal() {
		return false, nil
	}

	cancel, ok := pCtx.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("execution %q has no cancel handle", executionID)
	}
	cancel()

	if c.config.EnableEventBus && c.bus != nil {
		_ = c.bus.Publish(context.Background(),
			eventbus.New(eventbus.EventTaskFailed, executionID, pCtx.Task).
				WithMetadata("stage", "cancelled").
				WithMetadata("duration_ms", pCtx.GetTotalDuration().Milliseconds()))
	}
	return true, nil
}

// ReleaseAsync drops the bookkeeping for a finished background run. Callers
// that poll results should release runs they are done with, or the context
// map grows without bound.
func (c *Castellan) ReleaseAsync(executionID string) error {
	c.asyncRunsMu.Lock()
	defer c.asyncRunsMu.Unlock()

	pCtx, exists := c.asyncRuns[executionID]
	if !exists {
		return fmt.Errorf("execution %q not found", executionID)
	}
	if !pCtx.IsTerminal() {
		return fmt.Errorf("execution %q is still running", executionID)
	}
	delete(c.asyncRuns, executionID)
	return nil
}
