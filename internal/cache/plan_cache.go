// Package cache provides a thread-safe in-memory plan cache. Planning runs at
// temperature zero, so the same task and context produce the same plan; a
// short-lived cache avoids paying a model round trip for repeated requests.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// PlanCache stores raw planner output keyed by a digest of the planning
// request.
type PlanCache struct {
	store map[string]cacheItem
	mutex sync.RWMutex
	ttl   time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

type cacheItem struct {
	steps      []map[string]any
	expiration int64
}

// NewPlanCache creates a plan cache with the given TTL and starts the
// background cleanup loop.
func NewPlanCache(ttl time.Duration) *PlanCache {
	c := &PlanCache{
		store: make(map[string]cacheItem),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	go c.cleanupLoop(10 * time.Minute)
	return c
}

// Close stops the cleanup loop. Get and Set stay usable; expired items are
// simply no longer collected. Safe to call more than once.
func (c *PlanCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Key digests a planning request into a stable cache key.
func Key(task string, taskContext map[string]any) string {
	payload, err := json.Marshal(struct {
		Task    string         `json:"task"`
		Context map[string]any `json:"context"`
	}{Task: task, Context: taskContext})
	if err != nil {
		return "plan:" + task
	}
	digest := sha1.Sum(payload)
	return "plan:" + hex.EncodeToString(digest[:])
}

// Get retrieves a cached plan.
func (c *PlanCache) Get(ctx context.Context, key string) ([]map[string]any, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("plan not cached", nil))
	}
	if time.Now().UnixNano() > item.expiration {
		// Expired, removed by the cleanup loop.
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cached plan expired", nil))
	}
	return item.steps, nil
}

// Set stores a plan under the given key.
func (c *PlanCache) Set(ctx context.Context, key string, steps []map[string]any) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store[key] = cacheItem{
		steps:      steps,
		expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	return nil
}

// cleanupLoop periodically removes expired items.
func (c *PlanCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now().UnixNano()
			for key, item := range c.store {
				if now > item.expiration {
					delete(c.store, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
