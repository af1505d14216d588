package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quantpsych/irt-platform/internal/irt"
)

// Fitter estimates a model for a cleaned response matrix.
type Fitter interface {
	Fit(ctx context.Context, m *irt.Matrix) (*irt.FitOutcome, error)
}

// Entry is a cached fit. The fitted model handle is shared between
// requests, so implementations behind it must be safe for concurrent
// reads.
type Entry struct {
	Model    irt.FittedModel
	Type     irt.ModelType
	FellBack bool
	Reason   string
	FittedAt time.Time

	expiresAt time.Time
}

// IsExpired checks if the cache entry has expired
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.expiresAt)
}

// ModelCache memoizes fitted models by dataset key. Concurrent
// requests for the same key share one estimation run; a failed fit is
// never stored, so the next request retries. The cache trusts key
// identity: it never compares the matrix on a hit.
type ModelCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	fitter  Fitter
	flight  singleflight.Group
	stop    chan struct{}

	hits   int64
	misses int64
}

// NewModelCache creates a model cache over the given fitter.
func NewModelCache(fitter Fitter, ttl time.Duration) *ModelCache {
	cache := &ModelCache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		fitter:  fitter,
		stop:    make(chan struct{}),
	}

	// Start cleanup goroutine
	go cache.cleanup()

	return cache
}

// cleanup removes expired entries periodically
func (c *ModelCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.entries {
				if entry.IsExpired() {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (c *ModelCache) Close() {
	close(c.stop)
}

// GetOrFit returns the cached fit for key, running the fitter when the
// key is absent or expired. Callers racing on the same key block on a
// single estimation run and share its outcome. The bool reports
// whether the entry was already cached before this call.
func (c *ModelCache) GetOrFit(ctx context.Context, key string, m *irt.Matrix) (*Entry, bool, error) {
	if entry, ok := c.lookup(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return entry, true, nil
	}
	atomic.AddInt64(&c.misses, 1)

	result, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// A racing caller may have fitted and stored while this caller
		// was en route to the flight.
		if entry, ok := c.lookup(key); ok {
			return entry, nil
		}

		outcome, err := c.fitter.Fit(ctx, m)
		if err != nil {
			return nil, err
		}

		entry := &Entry{
			Model:     outcome.Model,
			Type:      outcome.Type,
			FellBack:  outcome.FellBack,
			Reason:    outcome.Reason,
			FittedAt:  time.Now(),
			expiresAt: time.Now().Add(c.ttl),
		}

		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()

		return entry, nil
	})
	if err != nil {
		return nil, false, err
	}

	return result.(*Entry), false, nil
}

// Get retrieves a cached fit without triggering estimation.
func (c *ModelCache) Get(key string) (*Entry, bool) {
	entry, ok := c.lookup(key)
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return entry, ok
}

func (c *ModelCache) lookup(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.IsExpired() {
		return nil, false
	}
	return entry, true
}

// Invalidate removes one key from the cache.
func (c *ModelCache) Invalidate(key string) {
	c.flight.Forget(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries from the cache
func (c *ModelCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
}

// Size returns the number of entries in the cache
func (c *ModelCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stats returns cache statistics
func (c *ModelCache) Stats() map[string]interface{} {
	c.mu.RLock()
	totalEntries := len(c.entries)
	expiredEntries := 0
	for _, entry := range c.entries {
		if entry.IsExpired() {
			expiredEntries++
		}
	}
	c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	return map[string]interface{}{
		"total_entries":   totalEntries,
		"expired_entries": expiredEntries,
		"active_entries":  totalEntries - expiredEntries,
		"ttl_seconds":     c.ttl.Seconds(),
		"hits":            hits,
		"misses":          misses,
		"hit_rate":        hitRate,
	}
}
