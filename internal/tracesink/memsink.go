package tracesink

import (
	"context"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/castellan-ai/castellan"
)

// MemorySink keeps responses in memory, keyed by request ID. Used in tests and
// in ephemeral deployments that only need the most recent traces.
type MemorySink struct {
	mu        sync.RWMutex
	responses map[string]*castellan.TaskResponse
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{responses: make(map[string]*castellan.TaskResponse)}
}

// Save implements castellan.TraceSink.
func (s *MemorySink) Save(ctx context.Context, response *castellan.TaskResponse) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	if response == nil || response.RequestID == "" {
		return errbuilder.GenericErr("response must carry a request_id", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[response.RequestID] = response
	return nil
}

// Load returns a stored response by request ID.
func (s *MemorySink) Load(ctx context.Context, requestID string) (*castellan.TaskResponse, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	response, ok := s.responses[requestID]
	if !ok {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("trace not found", nil))
	}
	return response, nil
}

// Len reports how many responses are stored.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.responses)
}
