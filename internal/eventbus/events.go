// Package eventbus publishes pipeline lifecycle events to in-process
// subscribers. Publication is asynchronous and best-effort: a slow or failing
// subscriber never blocks or fails an orchestration run.
package eventbus

import (
	"context"
	"time"
)

// EventType identifies a pipeline lifecycle event.
type EventType string

const (
	EventPlanStarted   EventType = "plan_started"
	EventPlanGenerated EventType = "plan_generated"
	EventPlanFailed    EventType = "plan_failed"

	EventPlanValidated        EventType = "plan_validated"
	EventPlanValidationFailed EventType = "plan_validation_failed"

	EventStepStarted   EventType = "step_started"
	EventStepSucceeded EventType = "step_succeeded"
	EventStepFailed    EventType = "step_failed"

	EventSynthesisStarted   EventType = "synthesis_started"
	EventSynthesisSucceeded EventType = "synthesis_succeeded"
	EventSynthesisFailed    EventType = "synthesis_failed"

	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"

	EventTraceSaveFailed EventType = "trace_save_failed"
)

// Event is one pipeline occurrence. RequestID ties every event of a run
// together so subscribers can reconstruct a per-request timeline.
type Event struct {
	Type      EventType
	RequestID string
	Payload   any
	Metadata  map[string]any
	Timestamp time.Time
}

// New creates an Event stamped with the current time.
func New(eventType EventType, requestID string, payload any) Event {
	return Event{
		Type:      eventType,
		RequestID: requestID,
		Payload:   payload,
		Metadata:  map[string]any{},
		Timestamp: time.Now(),
	}
}

// WithMetadata adds a metadata entry and returns the event for chaining.
func (e Event) WithMetadata(key string, value any) Event {
	e.Metadata[key] = value
	return e
}

// Handler processes one event. Handler errors are logged by the bus and never
// propagate to the publisher.
type Handler func(ctx context.Context, event Event) error

// Bus is the in-process event dispatch interface.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventTypes []EventType, handler Handler) (string, error)
	SubscribeAll(handler Handler) (string, error)
	Unsubscribe(subscriptionID string) error
	Close() error
}
