// Package cache provides a TTL cache with single-flight refresh, glob
// invalidation, and hit/miss statistics. It is the only shared mutable state
// in schemalens besides the learned-mapping store; all mutation happens under
// a mutex scoped to the map operation itself, never around loader I/O.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader computes a value for a key on a cache miss. Exactly one loader per
// key runs at a time regardless of concurrent caller count.
type Loader func(ctx context.Context) (any, error)

type entry struct {
	value     any
	expiresAt time.Time
	storedAt  time.Time
}

func (e *entry) fresh(now time.Time) bool {
	return now.Before(e.expiresAt)
}

// Stats reports cache effectiveness. Observability only, not correctness.
type Stats struct {
	Hits              int64         `json:"hits"`
	Misses            int64         `json:"misses"`
	StaleReads        int64         `json:"stale_reads"`
	Refreshes         int64         `json:"refreshes"`
	AvgRefreshLatency time.Duration `json:"avg_refresh_latency"`
}

// HitRate returns hits / (hits + misses), or 0 when the cache is unused.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a concurrency-safe TTL cache keyed by string.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	flight singleflight.Group
	logger *zap.Logger

	statsMu      sync.Mutex
	hits         int64
	misses       int64
	staleReads   int64
	refreshes    int64
	refreshTotal time.Duration
}

// New creates an empty cache. If logger is nil, a no-op logger is used.
func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Get returns the fresh value for key. Expired entries are never returned
// here; use GetStale for the explicit fallback path.
func (c *Cache) Get(key string) (any, bool) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && e.fresh(now) {
		c.recordHit()
		return e.value, true
	}
	c.recordMiss()
	return nil, false
}

// GetStale returns the value for key even past its TTL, along with its age.
// This is the deliberate stale-read fallback; callers must surface staleness.
func (c *Cache) GetStale(key string) (any, time.Duration, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, 0, false
	}
	c.statsMu.Lock()
	c.staleReads++
	c.statsMu.Unlock()
	return e.value, time.Since(e.storedAt), true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &entry{value: value, expiresAt: now.Add(ttl), storedAt: now}
	c.mu.Unlock()
}

// GetOrLoad returns the fresh value for key, invoking loader on a miss. All
// concurrent callers for the same key share a single loader invocation and
// receive its result. A caller whose context is cancelled while waiting
// returns early; the flight itself is released on loader failure so later
// callers are not starved by a cancelled or failed load.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader Loader) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.flight.DoChan(key, func() (any, error) {
		// Double-check under the flight: another caller may have
		// completed a load between our miss and this execution.
		now := time.Now()
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && e.fresh(now) {
			return e.value, nil
		}

		start := time.Now()
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.recordRefresh(time.Since(start))
		c.Set(key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			// Drop the failed flight so the next caller retries
			// instead of being handed the same error forever.
			c.flight.Forget(key)
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		// The shared load keeps running for other waiters; only this
		// caller gives up.
		return nil, ctx.Err()
	}
}

// Invalidate removes all entries whose key matches the glob pattern
// (e.g. "mapping:*" or "schema:*"). Returns the number of entries removed.
func (c *Cache) Invalidate(pattern string) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compile invalidation pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if g.Match(key) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("Invalidated cache entries",
			zap.String("pattern", pattern),
			zap.Int("removed", removed))
	}
	return removed, nil
}

// Len returns the number of entries currently stored, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	s := Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		StaleReads: c.staleReads,
		Refreshes:  c.refreshes,
	}
	if c.refreshes > 0 {
		s.AvgRefreshLatency = c.refreshTotal / time.Duration(c.refreshes)
	}
	return s
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}

func (c *Cache) recordRefresh(d time.Duration) {
	c.statsMu.Lock()
	c.refreshes++
	c.refreshTotal += d
	c.statsMu.Unlock()
}
