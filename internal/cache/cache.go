// Package cache provides a time-bounded memoization layer used to
// collapse duplicate requests that share a canonical key. Instances
// are explicitly constructed and owned by the component that needs
// them; there is no package-level state.
package cache

import (
	"sync"
	"time"
)

const defaultSweepInterval = 60 * time.Second

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// Cache memoizes computed values per key for a bounded time window.
// Expired entries are removed by a background sweep; the sweep
// interval is independent of any single entry's TTL.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]

	sweepInterval time.Duration
	now           func() time.Time

	stopOnce sync.Once
	done     chan struct{}
	swept    sync.WaitGroup
}

// New creates a cache sweeping at the given interval. A non-positive
// interval falls back to 60 seconds. Call Start to launch the sweep
// and Stop to release it.
func New[V any](sweepInterval time.Duration) *Cache[V] {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &Cache[V]{
		entries:       make(map[string]entry[V]),
		sweepInterval: sweepInterval,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// GetOrCompute returns the live cached value for key, or invokes
// compute, stores its result under key with ttl and returns it. A
// failed compute is returned to the caller and never stored, so a
// transient failure cannot poison the cache. A ttl of zero or less
// never serves from cache.
//
// Concurrent callers on the same brand-new key may both compute; the
// operations memoized here are idempotent, so the duplicate work is
// accepted in exchange for not holding the lock across compute.
func (c *Cache[V]) GetOrCompute(key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.expired(c.now()) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value, err := compute()
	if err != nil {
		return value, err
	}

	// A non-positive ttl can never be served, so storing it would only
	// leave a dead entry for the sweep.
	if ttl > 0 {
		c.mu.Lock()
		c.entries[key] = entry[V]{value: value, storedAt: c.now(), ttl: ttl}
		c.mu.Unlock()
	}
	return value, nil
}

// Invalidate drops the entry for key, if any.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start launches the background sweep goroutine.
func (c *Cache[V]) Start() {
	c.swept.Add(1)
	go func() {
		defer c.swept.Done()
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Stop terminates the sweep goroutine. Safe to call more than once;
// the cache itself stays usable after Stop.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.swept.Wait()
}

func (c *Cache[V]) sweep() {
	now := c.now()
	c.mu.Lock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
