package estimation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/quantpsych/irt-platform/internal/errors"
	"github.com/quantpsych/irt-platform/internal/irt"
	"github.com/quantpsych/irt-platform/internal/monitoring"
	"github.com/quantpsych/irt-platform/internal/resilience"
)

// EngineClient talks to the estimation engine over HTTP. The engine
// owns the numerical optimization; this client owns transport,
// retries and translation into domain types.
type EngineClient struct {
	baseURL string
	pool    *resilience.HTTPPool
	retry   resilience.RetryConfig
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
}

// NewEngineClient creates an engine client with pooling, retry and
// circuit breaker protection.
func NewEngineClient(baseURL string, timeout time.Duration, logger *monitoring.Logger, metrics *monitoring.Metrics) *EngineClient {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	})

	return &EngineClient{
		baseURL: baseURL,
		pool:    resilience.NewHTTPPool(timeout, cb),
		retry:   resilience.EngineRetryConfig(),
		logger:  logger,
		metrics: metrics,
	}
}

// fitRequest is the estimation request wire format. Missing responses
// serialize as null.
type fitRequest struct {
	ModelType     string           `json:"model_type"`
	Items         []string         `json:"items"`
	Responses     [][]irt.Response `json:"responses"`
	Seed          int64            `json:"seed"`
	MaxIterations int              `json:"max_iterations"`
}

// coefficientsPayload carries per-item values the engine may omit.
type coefficientsPayload struct {
	Discrimination *float64 `json:"discrimination"`
	Difficulty     *float64 `json:"difficulty"`
	Guessing       *float64 `json:"guessing"`
}

func (p coefficientsPayload) toCoefficients() irt.Coefficients {
	return irt.Coefficients{
		Discrimination: orNaN(p.Discrimination),
		Difficulty:     orNaN(p.Difficulty),
		Guessing:       orNaN(p.Guessing),
	}
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

type fitResponse struct {
	Status         string                `json:"status"`
	Error          string                `json:"error"`
	ModelID        string                `json:"model_id"`
	Converged      bool                  `json:"converged"`
	Iterations     int                   `json:"iterations"`
	LogLikelihood  float64               `json:"log_likelihood"`
	Coefficients   []coefficientsPayload `json:"coefficients"`
	StandardErrors []coefficientsPayload `json:"standard_errors"`
}

type statsRequest struct {
	ModelID string `json:"model_id"`
}

type statsResponse struct {
	Status        string   `json:"status"`
	Error         string   `json:"error"`
	M2            *float64 `json:"m2"`
	M2DF          int      `json:"m2_df"`
	M2P           *float64 `json:"m2_p"`
	TLI           *float64 `json:"tli"`
	RMSEA         *float64 `json:"rmsea"`
	Reliability   *float64 `json:"reliability"`
	LogLikelihood *float64 `json:"log_likelihood"`
	AIC           *float64 `json:"aic"`
	BIC           *float64 `json:"bic"`
}

// Fit submits a matrix for estimation and returns a handle on the
// fitted model. It implements the estimator port used by the fitter.
func (c *EngineClient) Fit(ctx context.Context, m *irt.Matrix, model irt.ModelType, seed int64, maxIter int) (irt.FittedModel, error) {
	payload := fitRequest{
		ModelType:     string(model),
		Items:         m.Items,
		Responses:     m.Rows,
		Seed:          seed,
		MaxIterations: maxIter,
	}

	c.metrics.IncrementEngineCalls()
	start := time.Now()

	var parsed fitResponse
	status, err := c.post(ctx, "/v1/fit", payload, &parsed)
	c.logger.EngineLogger("fit", string(model), status, time.Since(start), err == nil)
	if err != nil {
		c.metrics.IncrementEngineErrors()
		return nil, err
	}

	coefs := make([]irt.Coefficients, len(parsed.Coefficients))
	for i, p := range parsed.Coefficients {
		coefs[i] = p.toCoefficients()
	}

	var ses []irt.Coefficients
	if len(parsed.StandardErrors) > 0 {
		ses = make([]irt.Coefficients, len(parsed.StandardErrors))
		for i, p := range parsed.StandardErrors {
			ses[i] = p.toCoefficients()
		}
	}

	return &engineModel{
		client:     c,
		modelID:    parsed.ModelID,
		modelType:  model,
		converged:  parsed.Converged,
		iterations: parsed.Iterations,
		loglik:     parsed.LogLikelihood,
		coefs:      coefs,
		ses:        ses,
	}, nil
}

// FitStatistics fetches auxiliary fit indices for an estimated model.
func (c *EngineClient) FitStatistics(ctx context.Context, modelID string) (irt.FitStatistics, error) {
	c.metrics.IncrementEngineCalls()
	start := time.Now()

	var parsed statsResponse
	status, err := c.post(ctx, "/v1/fit/statistics", statsRequest{ModelID: modelID}, &parsed)
	c.logger.EngineLogger("fit_statistics", "", status, time.Since(start), err == nil)
	if err != nil {
		c.metrics.IncrementEngineErrors()
		return irt.FitStatistics{}, err
	}

	return irt.FitStatistics{
		M2:            orNaN(parsed.M2),
		M2DF:          parsed.M2DF,
		M2P:           orNaN(parsed.M2P),
		TLI:           orNaN(parsed.TLI),
		RMSEA:         orNaN(parsed.RMSEA),
		Reliability:   orNaN(parsed.Reliability),
		LogLikelihood: orNaN(parsed.LogLikelihood),
		AIC:           orNaN(parsed.AIC),
		BIC:           orNaN(parsed.BIC),
	}, nil
}

// Health checks engine reachability.
func (c *EngineClient) Health(ctx context.Context) error {
	resp, err := c.pool.DoRequest(ctx, http.MethodGet, c.baseURL+"/health", nil, nil)
	if err != nil {
		return err
	}
	defer errors.SafeClose(resp.Body, "engine health response")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// post sends a JSON payload, retrying transient failures, and decodes
// the engine envelope into out. The returned status code is the last
// HTTP status seen, zero when no response arrived.
func (c *EngineClient) post(ctx context.Context, path string, payload interface{}, out interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.NewInternalError("failed to encode engine request", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}

	resp, err := resilience.RetryHTTP(ctx, c.retry, func() (*http.Response, error) {
		return c.pool.DoRequest(ctx, http.MethodPost, c.baseURL+path, headers, body)
	})
	if err != nil {
		status := 0
		if httpErr, ok := err.(*resilience.HTTPError); ok {
			status = httpErr.StatusCode
		}
		return status, errors.NewEstimationError("engine", err)
	}
	defer errors.SafeClose(resp.Body, "engine response")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errors.NewEstimationError("engine", err)
	}

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, errors.NewEstimationError("engine",
			fmt.Errorf("engine error: status %d, body: %s", resp.StatusCode, truncateBody(data)))
	}

	// The engine reports application failures inside a 200 envelope.
	var envelope struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Status == "error" {
		message := envelope.Error
		if message == "" {
			message = "engine reported an unspecified failure"
		}
		return resp.StatusCode, errors.NewEstimationError("engine", fmt.Errorf("%s", message))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, errors.NewEstimationError("engine",
			fmt.Errorf("failed to decode engine response: %w", err))
	}

	return resp.StatusCode, nil
}

func truncateBody(data []byte) string {
	const limit = 512
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// GetPoolStats returns transport statistics for the engine connection.
func (c *EngineClient) GetPoolStats() map[string]interface{} {
	return c.pool.GetStats()
}

// Close releases the underlying connection pool.
func (c *EngineClient) Close() error {
	return c.pool.Close()
}
