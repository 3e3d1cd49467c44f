package castellan

import (
	"errors"
	"fmt"
)

// Error codes for the terminal failure classes of one orchestration run.
const (
	ErrCodePlanGeneration = "PLAN_GENERATION_ERROR"
	ErrCodePlanValidation = "PLAN_VALIDATION_ERROR"
	ErrCodeTaskExecution  = "TASK_EXECUTION_ERROR"
	ErrCodeSynthesis      = "SYNTHESIS_ERROR"
	ErrCodeConfiguration  = "CONFIGURATION_ERROR"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// Error is the runtime's error type. Code is machine-readable, Stage names
// where in the pipeline the failure happened, and Entry carries the partial
// trace entry for execution failures so callers can surface partial progress.
type Error struct {
	Code    string
	Stage   string
	Message string
	Entry   *TraceEntry
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{Code: code, Stage: stage, Message: message, Cause: cause}
}

// NewPlanGenerationError reports bad or unparseable planner output.
func NewPlanGenerationError(message string, cause error) *Error {
	return NewError(ErrCodePlanGeneration, "planning", message, cause)
}

// NewPlanValidationError reports a plan that violates registry or semantic rules.
func NewPlanValidationError(message string, cause error) *Error {
	return NewError(ErrCodePlanValidation, "validation", message, cause)
}

// NewTaskExecutionError reports an agent resolution failure or an
// agent-reported operation failure. entry may be nil when the failure happened
// before any step work started.
func NewTaskExecutionError(message string, entry *TraceEntry, cause error) *Error {
	err := NewError(ErrCodeTaskExecution, "execution", message, cause)
	err.Entry = entry
	return err
}

// NewSynthesisError reports bad or unparseable synthesizer output.
func NewSynthesisError(message string, cause error) *Error {
	return NewError(ErrCodeSynthesis, "synthesis", message, cause)
}

// NewConfigurationError reports an invalid runtime assembly.
func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

// NewInternalError reports an invariant violation inside the runtime.
func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsCode reports whether err is (or wraps) an Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// AgentError is the provider-level failure type. Agents translate their
// internal failures (network, auth, throttling) into an AgentError before the
// executor sees them; the executor converts it into a terminal trace entry.
type AgentError struct {
	Agent     string
	Operation string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Agent, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s.%s: %s", e.Agent, e.Operation, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// NewAgentError creates a new AgentError.
func NewAgentError(agent, operation, message string, cause error) *AgentError {
	return &AgentError{Agent: agent, Operation: operation, Message: message, Cause: cause}
}

// AsAgentError extracts an *AgentError from err's chain.
func AsAgentError(err error) (*AgentError, bool) {
	var e *AgentError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
