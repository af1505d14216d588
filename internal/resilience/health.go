package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthCheckFunc represents a function that checks service health
type HealthCheckFunc func(ctx context.Context) error

// ComponentHealth is the latest observed state of one dependency.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latency_ms"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HealthRegistry runs health checks against registered dependencies.
// Checks run in parallel with a shared timeout.
type HealthRegistry struct {
	timeout time.Duration

	mu      sync.RWMutex
	checks  map[string]HealthCheckFunc
	results map[string]ComponentHealth
}

// NewHealthRegistry creates a registry with the given per-check timeout.
func NewHealthRegistry(timeout time.Duration) *HealthRegistry {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HealthRegistry{
		timeout: timeout,
		checks:  make(map[string]HealthCheckFunc),
		results: make(map[string]ComponentHealth),
	}
}

// Register adds a named dependency check.
func (r *HealthRegistry) Register(name string, check HealthCheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
	slog.Info("Registered health check", "component", name)
}

// RunChecks executes every registered check and returns fresh results.
func (r *HealthRegistry) RunChecks(ctx context.Context) map[string]ComponentHealth {
	r.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			err := check(checkCtx)
			latency := time.Since(start)

			health := ComponentHealth{
				Name:      name,
				Healthy:   err == nil,
				Latency:   latency,
				LatencyMS: latency.Milliseconds(),
				CheckedAt: time.Now(),
			}
			if err != nil {
				health.Error = err.Error()
			}

			mu.Lock()
			results[name] = health
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	r.mu.Lock()
	for name, health := range results {
		previous, seen := r.results[name]
		if seen && previous.Healthy != health.Healthy {
			slog.Warn("Component health changed",
				"component", name,
				"healthy", health.Healthy,
				"error", health.Error)
		}
		r.results[name] = health
	}
	r.mu.Unlock()

	return results
}

// Snapshot returns the most recent results without running checks.
func (r *HealthRegistry) Snapshot() map[string]ComponentHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ComponentHealth, len(r.results))
	for name, health := range r.results {
		out[name] = health
	}
	return out
}

// Healthy reports whether every component in the latest results passed.
func (r *HealthRegistry) Healthy(results map[string]ComponentHealth) bool {
	for _, health := range results {
		if !health.Healthy {
			return false
		}
	}
	return true
}

// Start runs checks on an interval until the context is cancelled.
func (r *HealthRegistry) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunChecks(ctx)
		}
	}
}
