package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := NewChannelBus()
	defer bus.Close()

	rec := &recorder{}
	_, err := bus.Subscribe([]EventType{EventStepSucceeded}, rec.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), New(EventStepSucceeded, "req-1", nil)))
	require.NoError(t, bus.Publish(context.Background(), New(EventStepFailed, "req-1", nil)))

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	events := rec.snapshot()
	assert.Equal(t, EventStepSucceeded, events[0].Type)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewChannelBus(WithWorkerCount(1))
	defer bus.Close()

	rec := &recorder{}
	_, err := bus.SubscribeAll(rec.handle)
	require.NoError(t, err)

	for _, et := range []EventType{EventPlanStarted, EventPlanGenerated, EventTaskCompleted} {
		require.NoError(t, bus.Publish(context.Background(), New(et, "req-2", nil)))
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewChannelBus(WithWorkerCount(1))
	defer bus.Close()

	rec := &recorder{}
	id, err := bus.Subscribe([]EventType{EventTaskCompleted}, rec.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), New(EventTaskCompleted, "req-3", nil)))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	require.NoError(t, bus.Unsubscribe(id))
	require.NoError(t, bus.Publish(context.Background(), New(EventTaskCompleted, "req-3", nil)))

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewChannelBus(WithWorkerCount(1))
	defer bus.Close()

	failing := func(ctx context.Context, event Event) error {
		return errors.New("handler broke")
	}
	rec := &recorder{}

	_, err := bus.Subscribe([]EventType{EventStepFailed}, failing)
	require.NoError(t, err)
	_, err = bus.SubscribeAll(rec.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), New(EventStepFailed, "req-4", nil)))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewChannelBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), New(EventTaskCompleted, "req-5", nil))
	assert.Error(t, err)
}

func TestSubscribeValidation(t *testing.T) {
	bus := NewChannelBus()
	defer bus.Close()

	_, err := bus.Subscribe(nil, func(ctx context.Context, event Event) error { return nil })
	assert.Error(t, err)

	_, err = bus.Subscribe([]EventType{EventPlanStarted}, nil)
	assert.Error(t, err)
}

func TestEventMetadataChaining(t *testing.T) {
	event := New(EventStepStarted, "req-6", map[string]any{"step_id": 1}).
		WithMetadata("provider", "SourceControl").
		WithMetadata("operation", "GetFile")

	assert.Equal(t, "SourceControl", event.Metadata["provider"])
	assert.Equal(t, "GetFile", event.Metadata["operation"])
	assert.False(t, event.Timestamp.IsZero())
}
