package resilience

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HTTPPool is a shared HTTP client with a tuned connection pool and
// circuit breaker protection for engine calls. Only transport-level
// failures count against the breaker; HTTP error statuses are left to
// the retry layer.
type HTTPPool struct {
	client  *http.Client
	breaker *CircuitBreaker
}

// NewHTTPPool creates a pooled HTTP client guarded by the given
// circuit breaker.
func NewHTTPPool(timeout time.Duration, cb *CircuitBreaker) *HTTPPool {
	transport := &http.Transport{
		MaxIdleConns:          32,
		MaxConnsPerHost:       16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPPool{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		breaker: cb,
	}
}

// DoRequest executes one HTTP request with circuit breaker protection.
// A non-nil body is sent as-is; callers own the response body on a nil
// error.
func (p *HTTPPool) DoRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*http.Response, error) {
	var resp *http.Response

	err := p.breaker.Call(func() error {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		start := time.Now()
		resp, err = p.client.Do(req)
		duration := time.Since(start)

		if err != nil {
			slog.Warn("Request failed", "url", url, "error", err, "duration_ms", duration.Milliseconds())
			return err
		}

		slog.Debug("Request completed", "url", url, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// GetStats returns pool and breaker statistics
func (p *HTTPPool) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"timeout_ms":             p.client.Timeout.Milliseconds(),
		"circuit_breaker_state":  p.breaker.State().String(),
		"circuit_breaker_errors": p.breaker.Failures(),
	}
}

// Close releases idle connections held by the pool.
func (p *HTTPPool) Close() error {
	if transport, ok := p.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
