package resilience

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpsych/irt-platform/internal/errors"
)

func failingCall(err error) func() error {
	return func() error { return err }
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})

	boom := fmt.Errorf("boom")
	assert.Error(t, cb.Call(failingCall(boom)))
	assert.Equal(t, StateClosed, cb.State())

	assert.Error(t, cb.Call(failingCall(boom)))
	assert.Equal(t, StateOpen, cb.State())

	// Calls are rejected without running the function while open.
	ran := false
	err := cb.Call(func() error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, ran)

	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, StateOpen, cbErr.State)
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
	})

	require.Error(t, cb.Call(failingCall(fmt.Errorf("boom"))))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// First probe succeeds: half-open until the success threshold.
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	require.Error(t, cb.Call(failingCall(fmt.Errorf("boom"))))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Call(failingCall(fmt.Errorf("still down"))))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	require.Error(t, cb.Call(failingCall(fmt.Errorf("boom"))))
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func fastRetryConfig(attempts int) RetryConfig {
	config := DefaultRetryConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.JitterEnabled = false
	return config
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var attempts int32
	err := RetryWithConfig(context.Background(), fastRetryConfig(3), func() error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.NewEstimationError("3PL", fmt.Errorf("transient"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	var attempts int32
	err := RetryWithConfig(context.Background(), fastRetryConfig(5), func() error {
		atomic.AddInt32(&attempts, 1)
		return fmt.Errorf("permanent failure")
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), attempts)
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithConfig(ctx, fastRetryConfig(3), func() error {
		return errors.NewEstimationError("3PL", fmt.Errorf("transient"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelayBacksOffAndCaps(t *testing.T) {
	config := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      300 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(config, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(config, 1))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(config, 2))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(config, 5))
}

func TestRetryHTTPRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := RetryHTTP(context.Background(), fastRetryConfig(3), func() (*http.Response, error) {
		return http.Get(server.URL)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRetryHTTPGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resp, err := RetryHTTP(context.Background(), fastRetryConfig(2), func() (*http.Response, error) {
		return http.Get(server.URL)
	})
	require.Error(t, err)
	assert.Nil(t, resp)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestRetryHTTPDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	resp, err := RetryHTTP(context.Background(), fastRetryConfig(3), func() (*http.Response, error) {
		return http.Get(server.URL)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHTTPPoolDoRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pool := NewHTTPPool(time.Second, NewCircuitBreaker(CircuitBreakerConfig{}))
	defer pool.Close()

	resp, err := pool.DoRequest(context.Background(), http.MethodPost, server.URL,
		map[string]string{"Content-Type": "application/json"}, []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPPoolBreakerTripsOnTransportErrors(t *testing.T) {
	pool := NewHTTPPool(100*time.Millisecond, NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	}))
	defer pool.Close()

	// Unroutable target: every call is a transport failure.
	for i := 0; i < 2; i++ {
		_, err := pool.DoRequest(context.Background(), http.MethodGet, "http://127.0.0.1:1", nil, nil)
		require.Error(t, err)
	}

	_, err := pool.DoRequest(context.Background(), http.MethodGet, "http://127.0.0.1:1", nil, nil)
	require.Error(t, err)

	var cbErr *CircuitBreakerError
	assert.ErrorAs(t, err, &cbErr)
}

func TestHealthRegistry(t *testing.T) {
	registry := NewHealthRegistry(time.Second)
	registry.Register("store", func(ctx context.Context) error { return nil })
	registry.Register("engine", func(ctx context.Context) error { return fmt.Errorf("connection refused") })

	results := registry.RunChecks(context.Background())
	require.Len(t, results, 2)

	assert.True(t, results["store"].Healthy)
	assert.False(t, results["engine"].Healthy)
	assert.Contains(t, results["engine"].Error, "connection refused")
	assert.False(t, registry.Healthy(results))

	snapshot := registry.Snapshot()
	assert.Equal(t, results["engine"].Healthy, snapshot["engine"].Healthy)
}
