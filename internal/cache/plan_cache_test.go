package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCacheRoundTrip(t *testing.T) {
	c := NewPlanCache(time.Minute)
	key := Key("list buckets", nil)
	steps := []map[string]any{{"step_id": float64(1), "provider": "CloudInfra"}}

	_, err := c.Get(context.Background(), key)
	assert.Error(t, err)

	require.NoError(t, c.Set(context.Background(), key, steps))
	got, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, steps, got)
}

func TestPlanCacheExpiry(t *testing.T) {
	c := NewPlanCache(10 * time.Millisecond)
	key := Key("list buckets", nil)
	require.NoError(t, c.Set(context.Background(), key, []map[string]any{}))

	time.Sleep(20 * time.Millisecond)
	_, err := c.Get(context.Background(), key)
	assert.Error(t, err)
}

func TestKeyIsStableAndContextSensitive(t *testing.T) {
	a := Key("task", map[string]any{"team": "data"})
	b := Key("task", map[string]any{"team": "data"})
	c := Key("task", map[string]any{"team": "platform"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPlanCacheCloseIsIdempotent(t *testing.T) {
	c := NewPlanCache(time.Minute)
	require.NoError(t, c.Set(context.Background(), "k", []map[string]any{}))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// The cache keeps serving after close; only the cleanup loop stops.
	_, err := c.Get(context.Background(), "k")
	assert.NoError(t, err)
}

func TestPlanCacheHonorsCancelledContext(t *testing.T) {
	c := NewPlanCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, c.Set(ctx, "k", nil))
	_, err := c.Get(ctx, "k")
	assert.Error(t, err)
}
