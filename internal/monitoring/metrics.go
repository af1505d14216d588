package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks service counters and response time statistics
type Metrics struct {
	// Request metrics
	RequestCount        int64
	ErrorCount          int64
	AverageResponseTime int64 // in nanoseconds

	// Cache metrics
	CacheHits   int64
	CacheMisses int64

	// Engine metrics
	EngineCalls    int64
	EngineErrors   int64
	ModelFallbacks int64

	// Analysis metrics
	UploadsAccepted   int64
	AnalysesCompleted int64
	AnalysesFailed    int64
	QueueRejections   int64

	// Rate limiting metrics
	RateLimitIPBlocks    int64
	RateLimitRedisErrors int64
	RateLimitFallbacks   int64

	// Response time percentiles
	ResponseTimes []time.Duration
	ResponseMutex sync.RWMutex

	// Status code distribution
	StatusCodes map[int]int64
	StatusMutex sync.RWMutex

	// Start time for uptime calculation
	StartTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		StatusCodes:   make(map[int]int64),
		ResponseTimes: make([]time.Duration, 0, 1000),
		StartTime:     time.Now(),
	}
}

// IncrementRequests increments the total request counter
func (m *Metrics) IncrementRequests() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementErrors increments the error counter
func (m *Metrics) IncrementErrors() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCacheHits increments the model cache hit counter
func (m *Metrics) IncrementCacheHits() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMisses increments the model cache miss counter
func (m *Metrics) IncrementCacheMisses() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// IncrementEngineCalls increments the estimation engine call counter
func (m *Metrics) IncrementEngineCalls() {
	atomic.AddInt64(&m.EngineCalls, 1)
}

// IncrementEngineErrors increments the estimation engine error counter
func (m *Metrics) IncrementEngineErrors() {
	atomic.AddInt64(&m.EngineErrors, 1)
}

// IncrementModelFallbacks counts fits that fell back to the simpler model
func (m *Metrics) IncrementModelFallbacks() {
	atomic.AddInt64(&m.ModelFallbacks, 1)
}

// IncrementUploads counts accepted dataset uploads
func (m *Metrics) IncrementUploads() {
	atomic.AddInt64(&m.UploadsAccepted, 1)
}

// IncrementAnalysesCompleted counts successful analysis jobs
func (m *Metrics) IncrementAnalysesCompleted() {
	atomic.AddInt64(&m.AnalysesCompleted, 1)
}

// IncrementAnalysesFailed counts failed analysis jobs
func (m *Metrics) IncrementAnalysesFailed() {
	atomic.AddInt64(&m.AnalysesFailed, 1)
}

// IncrementQueueRejections counts jobs rejected because the queue was full
func (m *Metrics) IncrementQueueRejections() {
	atomic.AddInt64(&m.QueueRejections, 1)
}

// IncrementRateLimitIPBlocks increments IP-based rate limit blocks
func (m *Metrics) IncrementRateLimitIPBlocks() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
}

// IncrementRateLimitRedisErrors increments Redis rate limiter errors
func (m *Metrics) IncrementRateLimitRedisErrors() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallbacks counts uses of the in-memory fallback limiter
func (m *Metrics) IncrementRateLimitFallbacks() {
	atomic.AddInt64(&m.RateLimitFallbacks, 1)
}

// RecordResponseTime records a response time for percentile calculations
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	m.ResponseMutex.Lock()
	defer m.ResponseMutex.Unlock()

	m.ResponseTimes = append(m.ResponseTimes, duration)

	// Keep only the last 1000 entries to bound memory usage
	if len(m.ResponseTimes) > 1000 {
		m.ResponseTimes = m.ResponseTimes[len(m.ResponseTimes)-1000:]
	}

	// Update rolling average
	var total time.Duration
	for _, t := range m.ResponseTimes {
		total += t
	}
	avg := total / time.Duration(len(m.ResponseTimes))
	atomic.StoreInt64(&m.AverageResponseTime, int64(avg))
}

// RecordStatusCode records an HTTP status code
func (m *Metrics) RecordStatusCode(code int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.StatusCodes[code]++
}

// GetStats returns current metrics as a map
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)
	engineCalls := atomic.LoadInt64(&m.EngineCalls)
	engineErrors := atomic.LoadInt64(&m.EngineErrors)

	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := 0.0
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = float64(cacheHits) / float64(cacheHits+cacheMisses) * 100
	}

	engineErrorRate := 0.0
	if engineCalls > 0 {
		engineErrorRate = float64(engineErrors) / float64(engineCalls) * 100
	}

	p50, p95, p99 := m.calculatePercentiles()

	m.StatusMutex.RLock()
	statusCodes := make(map[int]int64, len(m.StatusCodes))
	for code, count := range m.StatusCodes {
		statusCodes[code] = count
	}
	m.StatusMutex.RUnlock()

	return map[string]interface{}{
		"uptime_seconds":        time.Since(m.StartTime).Seconds(),
		"requests_total":        requests,
		"errors_total":          errors,
		"error_rate_percent":    errorRate,
		"avg_response_time_ms":  float64(atomic.LoadInt64(&m.AverageResponseTime)) / 1e6,
		"p50_response_time_ms":  float64(p50) / 1e6,
		"p95_response_time_ms":  float64(p95) / 1e6,
		"p99_response_time_ms":  float64(p99) / 1e6,
		"status_codes":          statusCodes,
		"cache_hits":            cacheHits,
		"cache_misses":          cacheMisses,
		"cache_hit_rate":        cacheHitRate,
		"engine_calls":          engineCalls,
		"engine_errors":         engineErrors,
		"engine_error_rate":     engineErrorRate,
		"model_fallbacks":       atomic.LoadInt64(&m.ModelFallbacks),
		"uploads_accepted":      atomic.LoadInt64(&m.UploadsAccepted),
		"analyses_completed":    atomic.LoadInt64(&m.AnalysesCompleted),
		"analyses_failed":       atomic.LoadInt64(&m.AnalysesFailed),
		"queue_rejections":      atomic.LoadInt64(&m.QueueRejections),
		"rate_limit_ip_blocks":  atomic.LoadInt64(&m.RateLimitIPBlocks),
		"rate_limit_redis_errs": atomic.LoadInt64(&m.RateLimitRedisErrors),
		"rate_limit_fallbacks":  atomic.LoadInt64(&m.RateLimitFallbacks),
	}
}

// calculatePercentiles computes p50, p95 and p99 from recorded response times
func (m *Metrics) calculatePercentiles() (p50, p95, p99 time.Duration) {
	m.ResponseMutex.RLock()
	defer m.ResponseMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0, 0, 0
	}

	sorted := make([]time.Duration, len(m.ResponseTimes))
	copy(sorted, m.ResponseTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := func(p int) time.Duration {
		i := len(sorted) * p / 100
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return sorted[i]
	}
	return idx(50), idx(95), idx(99)
}

// Reset clears all metrics
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.RequestCount, 0)
	atomic.StoreInt64(&m.ErrorCount, 0)
	atomic.StoreInt64(&m.AverageResponseTime, 0)
	atomic.StoreInt64(&m.CacheHits, 0)
	atomic.StoreInt64(&m.CacheMisses, 0)
	atomic.StoreInt64(&m.EngineCalls, 0)
	atomic.StoreInt64(&m.EngineErrors, 0)
	atomic.StoreInt64(&m.ModelFallbacks, 0)
	atomic.StoreInt64(&m.UploadsAccepted, 0)
	atomic.StoreInt64(&m.AnalysesCompleted, 0)
	atomic.StoreInt64(&m.AnalysesFailed, 0)
	atomic.StoreInt64(&m.QueueRejections, 0)
	atomic.StoreInt64(&m.RateLimitIPBlocks, 0)
	atomic.StoreInt64(&m.RateLimitRedisErrors, 0)
	atomic.StoreInt64(&m.RateLimitFallbacks, 0)

	m.ResponseMutex.Lock()
	m.ResponseTimes = m.ResponseTimes[:0]
	m.ResponseMutex.Unlock()

	m.StatusMutex.Lock()
	m.StatusCodes = make(map[int]int64)
	m.StatusMutex.Unlock()

	m.StartTime = time.Now()
}
