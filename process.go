package castellan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/castellan-ai/castellan/internal/eventbus"
)

// ProcessState represents the current state of one orchestration run.
type ProcessState string

const (
	// StateInit is the initial state of the run
	StateInit ProcessState = "init"
	// StatePlanning represents the plan generation phase
	StatePlanning ProcessState = "planning"
	// StateValidation represents the plan validation phase
	StateValidation ProcessState = "validation"
	// StateExecution represents the step execution phase
	StateExecution ProcessState = "execution"
	// StateSynthesis represents the answer synthesis phase
	StateSynthesis ProcessState = "synthesis"
	// StateFailed represents a failed run
	StateFailed ProcessState = "failed"
	// StateComplete represents a completed run
	StateComplete ProcessState = "complete"
	// StateCancelled represents a cancelled run
	StateCancelled ProcessState = "cancelled"
	// StateUnknown is used when the status of an async run cannot be determined.
	StateUnknown ProcessState = "unknown"
)

// ProcessContext carries the data of one run through the state machine.
type ProcessContext struct {
	// Input
	RequestID   string
	Task        string
	TaskContext map[string]any

	// Intermediate results
	RawPlan   []map[string]any
	Plan      []PlanStep
	Trace     []TraceEntry
	Warnings  []string
	Synthesis *SynthesisResult
	Response  *TaskResponse

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState ProcessState
	StateStack   []ProcessState
	StateData    map[string]any

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ProcessState]time.Time

	// mu guards the fields the state machine mutates while another goroutine
	// may be polling an async run: CurrentState, StateStack, StateStartTimes,
	// LastError, ErrorStage, EndTime, Response.
	mu sync.RWMutex
}

// NewProcessContext creates a process context for one request.
func NewProcessContext(requestID, task string, taskContext map[string]any) *ProcessContext {
	return &ProcessContext{
		RequestID:       requestID,
		Task:            task,
		TaskContext:     taskContext,
		CurrentState:    StateInit,
		StateStack:      []ProcessState{},
		StateData:       make(map[string]any),
		StartTime:       time.Now(),
		StateStartTimes: make(map[ProcessState]time.Time),
	}
}

// PushState pushes the current state onto the stack and sets a new current state.
func (pc *ProcessContext) PushState(state ProcessState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.StateStack = append(pc.StateStack, pc.CurrentState)
	pc.CurrentState = state
	pc.StateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current state.
// Returns false if the stack is empty.
func (pc *ProcessContext) PopState() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.StateStack) == 0 {
		return false
	}
	lastIdx := len(pc.StateStack) - 1
	pc.CurrentState = pc.StateStack[lastIdx]
	pc.StateStack = pc.StateStack[:lastIdx]
	pc.StateStartTimes[pc.CurrentState] = time.Now()
	return true
}

// State returns the current state.
func (pc *ProcessContext) State() ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.CurrentState
}

// Failure returns the recorded error and the stage it happened in.
func (pc *ProcessContext) Failure() (error, string) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.LastError, pc.ErrorStage
}

// Result returns the assembled response, nil until the run completed.
func (pc *ProcessContext) Result() *TaskResponse {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.Response
}

// IsTerminal checks if the current state is a terminal state.
func (pc *ProcessContext) IsTerminal() bool {
	state := pc.State()
	return state == StateComplete || state == StateFailed || state == StateCancelled
}

// SetError records the failure and transitions to StateFailed.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.LastError = err
	pc.ErrorStage = stage
	pc.CurrentState = StateFailed
	pc.EndTime = time.Now()
	pc.StateStartTimes[StateFailed] = pc.EndTime
}

// SetCancelled records the cancellation and transitions to StateCancelled.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.LastError = err
	pc.ErrorStage = stage
	pc.CurrentState = StateCancelled
	pc.EndTime = time.Now()
	pc.StateStartTimes[StateCancelled] = pc.EndTime
}

// Complete marks the run as complete and sets the end time.
func (pc *ProcessContext) Complete() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.CurrentState = StateComplete
	pc.EndTime = time.Now()
	pc.StateStartTimes[StateComplete] = pc.EndTime
}

// setResponse publishes the assembled response under the context lock so
// concurrent status readers observe it fully constructed.
func (pc *ProcessContext) setResponse(response *TaskResponse) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.Response = response
}

// advance moves to the next non-terminal state.
func (pc *ProcessContext) advance(state ProcessState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.CurrentState = state
	pc.StateStartTimes[state] = time.Now()
}

// GetTotalDuration returns the total duration of the run so far.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if !pc.EndTime.IsZero() {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, bus eventbus.Bus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine drives one run through its states until a terminal state.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	bus         eventbus.Bus
}

// NewStateMachine creates an empty state machine.
func NewStateMachine(bus eventbus.Bus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		bus:         bus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until completion, failure or cancellation.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (*TaskResponse, error) {
	for !pCtx.IsTerminal() {
		state := pCtx.State()

		select {
		case <-ctx.Done():
			err := ctx.Err()
			pCtx.SetCancelled(err, string(state))
			return nil, err
		default:
		}

		transition, exists := sm.transitions[state]
		if !exists {
			err := NewInternalError(string(state),
				fmt.Sprintf("no transition defined for state %q", state), nil)
			pCtx.SetError(err, string(state))
			return nil, err
		}

		nextState, err := transition(ctx, sm.bus, pCtx)
		if err != nil {
			stage := string(state)
			var runtimeErr *Error
			if errors.As(err, &runtimeErr) {
				stage = runtimeErr.Stage
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				pCtx.SetCancelled(err, stage)
			} else if !pCtx.IsTerminal() {
				pCtx.SetError(err, stage)
			}
			continue
		}

		if !pCtx.IsTerminal() {
			pCtx.advance(nextState)
		}
	}

	lastErr, _ := pCtx.Failure()
	return pCtx.Result(), lastErr
}
