package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// ChannelBus is a Bus backed by a buffered channel and a small worker pool.
type ChannelBus struct {
	subscribers    map[EventType]map[string]Handler
	allSubscribers map[string]Handler

	eventChan chan queuedEvent
	done      chan struct{}
	closed    bool

	wg sync.WaitGroup
	mu sync.RWMutex

	bufferSize  int
	workerCount int
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// Option configures a ChannelBus.
type Option func(*ChannelBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) Option {
	return func(b *ChannelBus) {
		b.bufferSize = size
	}
}

// WithWorkerCount sets the number of dispatch workers.
func WithWorkerCount(count int) Option {
	return func(b *ChannelBus) {
		b.workerCount = count
	}
}

// NewChannelBus creates a bus and starts its workers.
func NewChannelBus(options ...Option) *ChannelBus {
	b := &ChannelBus{
		subscribers:    make(map[EventType]map[string]Handler),
		allSubscribers: make(map[string]Handler),
		done:           make(chan struct{}),
		bufferSize:     100,
		workerCount:    2,
	}
	for _, option := range options {
		option(b)
	}
	b.eventChan = make(chan queuedEvent, b.bufferSize)

	for i := 0; i < b.workerCount; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *ChannelBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case qe := <-b.eventChan:
			b.dispatch(qe)
		}
	}
}

// dispatch fans an event out to its subscribers. Handler maps are copied
// under the read lock so a handler may subscribe or unsubscribe without
// deadlocking the dispatch path.
func (b *ChannelBus) dispatch(qe queuedEvent) {
	if qe.ctx.Err() != nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.allSubscribers))
	if typed, ok := b.subscribers[qe.event.Type]; ok {
		for _, h := range typed {
			handlers = append(handlers, h)
		}
	}
	for _, h := range b.allSubscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		if qe.ctx.Err() != nil {
			return
		}
		if err := handler(qe.ctx, qe.event); err != nil {
			log.Printf("event handler error (type=%s request_id=%s): %v",
				qe.event.Type, qe.event.RequestID, err)
		}
	}
}

// Publish queues an event for dispatch. Blocks only when the buffer is full,
// and then still respects context cancellation.
func (b *ChannelBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return fmt.Errorf("event bus is closed")
	case b.eventChan <- queuedEvent{ctx: ctx, event: event}:
		return nil
	}
}

// Subscribe registers a handler for the given event types and returns the
// subscription ID.
func (b *ChannelBus) Subscribe(eventTypes []EventType, handler Handler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	subscriptionID := uuid.New().String()
	for _, eventType := range eventTypes {
		if _, ok := b.subscribers[eventType]; !ok {
			b.subscribers[eventType] = make(map[string]Handler)
		}
		b.subscribers[eventType][subscriptionID] = handler
	}
	return subscriptionID, nil
}

// SubscribeAll registers a handler for every event type.
func (b *ChannelBus) SubscribeAll(handler Handler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("event bus is closed")
	}

	subscriptionID := uuid.New().String()
	b.allSubscribers[subscriptionID] = handler
	return subscriptionID, nil
}

// Unsubscribe removes a subscription by ID.
func (b *ChannelBus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.allSubscribers, subscriptionID)
	for eventType := range b.subscribers {
		delete(b.subscribers[eventType], subscriptionID)
	}
	return nil
}

// Close stops the workers and rejects further publishes. Events still queued
// at close time are dropped.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
	return nil
}
