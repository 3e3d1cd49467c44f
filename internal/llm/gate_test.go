package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (c *countingClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxOutputTokens int) (string, error) {
	current := c.inFlight.Add(1)
	for {
		max := c.maxInFlight.Load()
		if current <= max || c.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	time.Sleep(c.delay)
	c.inFlight.Add(-1)
	return "ok", nil
}

func TestGateSerializesCalls(t *testing.T) {
	inner := &countingClient{delay: 10 * time.Millisecond}
	gate, err := NewGate(inner, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Complete(context.Background(), "s", "u", 0, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.maxInFlight.Load())
}

func TestGateWiderWidthAllowsConcurrency(t *testing.T) {
	inner := &countingClient{delay: 20 * time.Millisecond}
	gate, err := NewGate(inner, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gate.Complete(context.Background(), "s", "u", 0, 10)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, inner.maxInFlight.Load(), int32(3))
}

func TestGateHonorsContextCancellation(t *testing.T) {
	inner := &countingClient{delay: 200 * time.Millisecond}
	gate, err := NewGate(inner, 1)
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = gate.Complete(context.Background(), "s", "u", 0, 10)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = gate.Complete(ctx, "s", "u", 0, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewGateValidation(t *testing.T) {
	_, err := NewGate(nil, 1)
	assert.Error(t, err)

	_, err = NewGate(&countingClient{}, 0)
	assert.Error(t, err)
}
