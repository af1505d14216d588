package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpsych/irt-platform/internal/analysis"
	"github.com/quantpsych/irt-platform/internal/cache"
	"github.com/quantpsych/irt-platform/internal/config"
	"github.com/quantpsych/irt-platform/internal/estimation"
	"github.com/quantpsych/irt-platform/internal/export"
	"github.com/quantpsych/irt-platform/internal/irt"
	"github.com/quantpsych/irt-platform/internal/jobs"
	"github.com/quantpsych/irt-platform/internal/middleware"
	"github.com/quantpsych/irt-platform/internal/monitoring"
	"github.com/quantpsych/irt-platform/internal/ratelimit"
	"github.com/quantpsych/irt-platform/internal/resilience"
	"github.com/quantpsych/irt-platform/internal/security"
	"github.com/quantpsych/irt-platform/internal/store"
	"github.com/quantpsych/irt-platform/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// sampleCSV has 12 respondents over 4 items. Every row mixes correct
// and incorrect answers so none are dropped as uninformative.
const sampleCSV = `student_id,Q1,Q2,Q3,Q4
s01,1,0,1,1
s02,0,1,0,0
s03,1,1,0,1
s04,0,0,1,0
s05,1,0,0,1
s06,0,1,1,0
s07,1,1,1,0
s08,0,0,0,1
s09,1,0,1,0
s10,0,1,0,1
s11,1,1,0,0
s12,0,0,1,1
`

// stubEngine serves the estimation wire protocol. convergedByModel
// decides per model type whether the fit reports convergence, which
// drives the fallback path.
func stubEngine(t *testing.T, convergedByModel map[string]bool) *httptest.Server {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Errorf("stub engine encode: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/fit", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ModelType string   `json:"model_type"`
			Items     []string `json:"items"`
			Responses [][]int  `json:"responses"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		coefs := make([]map[string]float64, len(req.Items))
		ses := make([]map[string]float64, len(req.Items))
		for i := range req.Items {
			coefs[i] = map[string]float64{
				"discrimination": 1.2,
				"difficulty":     -0.4 + 0.3*float64(i),
				"guessing":       0.18,
			}
			ses[i] = map[string]float64{
				"discrimination": 0.1,
				"difficulty":     0.08,
				"guessing":       0.04,
			}
		}

		writeJSON(w, map[string]interface{}{
			"status":          "success",
			"model_id":        "model-" + req.ModelType,
			"converged":       convergedByModel[req.ModelType],
			"iterations":      37,
			"log_likelihood":  -412.77,
			"coefficients":    coefs,
			"standard_errors": ses,
		})
	})
	mux.HandleFunc("/v1/fit/statistics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":         "success",
			"m2":             18.4,
			"m2_df":          2,
			"m2_p":           0.08,
			"tli":            0.97,
			"rmsea":          0.04,
			"reliability":    0.88,
			"log_likelihood": -412.77,
			"aic":            841.5,
			"bic":            873.2,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newTestApplication wires the full service stack against a stub
// engine and the in-memory store, then returns the real router.
func newTestApplication(t *testing.T, engineURL string) (*application, *gin.Engine) {
	t.Helper()

	cfg := &config.Config{
		Port:              8080,
		EngineURL:         engineURL,
		EngineTimeout:     5 * time.Second,
		ResultTTL:         time.Hour,
		CacheTTL:          time.Hour,
		AnalysisWorkers:   2,
		AnalysisQueueSize: 8,
		JobTimeout:        30 * time.Second,
		AllowedOrigins:    []string{"http://localhost:3000"},
		UploadRateLimit:   100,
		MaxUploadBytes:    1 << 20,
		RequestTimeout:    10 * time.Second,
		LogLevel:          "error",
	}

	appMetrics := monitoring.NewMetrics()
	appLogger := monitoring.NewLogger(slog.LevelError)

	st := store.NewMemoryStore(cfg.ResultTTL)
	engine := estimation.NewEngineClient(cfg.EngineURL, cfg.EngineTimeout, appLogger, appMetrics)
	modelCache := cache.NewModelCache(irt.NewFitter(engine), cfg.CacheTTL)
	service := analysis.NewService(modelCache, appLogger, appMetrics)
	runner := jobs.NewRunner(service, st, appLogger, appMetrics, cfg.AnalysisWorkers, cfg.AnalysisQueueSize, cfg.JobTimeout)

	limiter := ratelimit.NewRateLimiter(nil, ratelimit.Config{
		UploadLimitPerMin: cfg.UploadRateLimit,
		BurstMultiplier:   2,
	}, appLogger, appMetrics)

	securityConfig := security.DefaultSecurityConfig()
	securityConfig.MaxUploadBytes = cfg.MaxUploadBytes
	securityConfig.RequestTimeout = cfg.RequestTimeout

	health := resilience.NewHealthRegistry(2 * time.Second)
	health.Register("estimation_engine", engine.Health)
	health.Register("store", st.Ping)

	app := &application{
		cfg:         cfg,
		logger:      appLogger,
		metrics:     appMetrics,
		store:       st,
		engine:      engine,
		modelCache:  modelCache,
		service:     service,
		exporter:    export.NewExporter(),
		runner:      runner,
		limiter:     limiter,
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
		security:    security.NewSecurityMiddleware(securityConfig),
		health:      health,
		startedAt:   time.Now(),
	}

	t.Cleanup(func() {
		runner.Stop()
		modelCache.Close()
		limiter.Close()
		_ = engine.Close()
		_ = st.Close()
	})

	return app, app.setupRouter()
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func doRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// uploadSample submits the fixture CSV and returns the session id.
func uploadSample(t *testing.T, router *gin.Engine) string {
	t.Helper()

	w := doRequest(router, uploadRequest(t, "responses.csv", sampleCSV))
	require.Equal(t, http.StatusOK, w.Code, "upload response: %s", w.Body.String())

	var resp types.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	require.NotEmpty(t, resp.TaskID)
	assert.Equal(t, types.StatusPending, resp.Status)
	assert.Equal(t, "File uploaded successfully. Analysis started.", resp.Message)

	return resp.SessionID
}

// waitForCompletion polls the status endpoint until the background
// worker finishes.
func waitForCompletion(t *testing.T, router *gin.Engine, sessionID string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/status/"+sessionID, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var status types.TaskStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

		switch status.Status {
		case types.StatusCompleted:
			return
		case types.StatusError:
			t.Fatalf("analysis failed: %s", status.Message)
		}

		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("analysis did not complete before deadline")
}

func TestUploadAnalysisFlow(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	sessionID := uploadSample(t, router)
	waitForCompletion(t, router, sessionID)

	w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/analysis/"+sessionID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var result types.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	assert.Equal(t, sessionID, result.SessionID)
	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.Equal(t, "3PL", result.AnalysisType)
	require.Len(t, result.ItemParameters, 4)
	assert.Equal(t, "Q1", result.ItemParameters[0].ItemID)

	require.NotNil(t, result.ModelInfo)
	assert.True(t, result.ModelInfo.Converged)
	assert.False(t, result.ModelInfo.FellBack)

	require.NotNil(t, result.ModelFit)
	assert.InDelta(t, 0.88, float64(result.ModelFit.Reliability), 1e-9)

	require.NotNil(t, result.TestInformation)
	assert.Len(t, result.TestInformation.Theta, irt.GridPoints)
	assert.Len(t, result.TestInformation.SEM, irt.GridPoints)

	require.NotNil(t, result.DataSummary)
	assert.Equal(t, 12, result.DataSummary.Respondents)
	assert.Equal(t, 4, result.DataSummary.Items)
}

func TestCurveEndpoints(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	sessionID := uploadSample(t, router)
	waitForCompletion(t, router, sessionID)

	t.Run("icc single item", func(t *testing.T) {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/icc/"+sessionID+"?item_id=Q2", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.ICCResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, "3PL", resp.ModelType)
		require.Len(t, resp.ICCData, irt.GridPoints)
		for _, p := range resp.ICCData {
			assert.Equal(t, "Q2", p.ItemID)
		}
	})

	t.Run("icc all items", func(t *testing.T) {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/icc/"+sessionID, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.ICCResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.ICCData, 4*irt.GridPoints)
	})

	t.Run("icc unknown item", func(t *testing.T) {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/icc/"+sessionID+"?item_id=Q99", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("iif", func(t *testing.T) {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/iif/"+sessionID, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.IIFResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Len(t, resp.IIFData, 4*irt.GridPoints)
	})

	t.Run("tif", func(t *testing.T) {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/tif/"+sessionID, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.TIFResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		require.Len(t, resp.Theta, irt.GridPoints)
		assert.Equal(t, -4.0, resp.Theta[0])
		assert.Equal(t, 4.0, resp.Theta[len(resp.Theta)-1])
	})
}

func TestFallbackToSimpleModel(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": false, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	sessionID := uploadSample(t, router)
	waitForCompletion(t, router, sessionID)

	w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/analysis/"+sessionID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var result types.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	assert.Equal(t, "2PL", result.AnalysisType)
	require.NotNil(t, result.ModelInfo)
	assert.True(t, result.ModelInfo.FellBack)
	assert.Equal(t, "estimation did not converge", result.ModelInfo.FallbackCause)

	// The simple model has no guessing parameter.
	for _, p := range result.ItemParameters {
		assert.Zero(t, p.Guessing)
	}
}

func TestUploadValidation(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	tests := []struct {
		name     string
		filename string
		content  string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "non-CSV extension",
			filename: "responses.txt",
			content:  sampleCSV,
			wantCode: http.StatusBadRequest,
			wantMsg:  "only CSV files are supported",
		},
		{
			name:     "single column",
			filename: "one.csv",
			content:  "Q1\n1\n0\n",
			wantCode: http.StatusBadRequest,
			wantMsg:  "at least 2 columns",
		},
		{
			name:     "ragged rows",
			filename: "ragged.csv",
			content:  "a,b\n1\n",
			wantCode: http.StatusBadRequest,
			wantMsg:  "malformed CSV",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, uploadRequest(t, tt.filename, tt.content))
			assert.Equal(t, tt.wantCode, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "error", body["status"])
			assert.Contains(t, body["error"], tt.wantMsg)
		})
	}

	t.Run("missing file field", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("note", "no file here"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		w := doRequest(router, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUploadRateLimit(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	app, _ := newTestApplication(t, engine.URL)

	// Swap in a limiter that only admits one upload per window.
	tight := ratelimit.NewRateLimiter(nil, ratelimit.Config{
		UploadLimitPerMin: 1,
		BurstMultiplier:   1,
	}, app.logger, app.metrics)
	t.Cleanup(tight.Close)
	app.limiter = tight
	router := app.setupRouter()

	w := doRequest(router, uploadRequest(t, "responses.csv", sampleCSV))
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, uploadRequest(t, "responses.csv", sampleCSV))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
}

func TestSessionLifecycleResponses(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	app, router := newTestApplication(t, engine.URL)

	t.Run("unknown session", func(t *testing.T) {
		for _, path := range []string{
			"/api/status/missing",
			"/api/analysis/missing",
			"/api/icc/missing",
			"/api/iif/missing",
			"/api/tif/missing",
			"/api/export/missing/csv",
			"/api/export/missing/json",
		} {
			w := doRequest(router, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusNotFound, w.Code, "path %s", path)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "error", body["status"], "path %s", path)
		}
	})

	t.Run("processing answers 202", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, app.store.SaveStatus(ctx, "in-flight", types.TaskStatus{
			Status:  types.StatusProcessing,
			Message: "Running IRT analysis...",
		}))

		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/analysis/in-flight", nil))
		require.Equal(t, http.StatusAccepted, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, types.StatusProcessing, body["status"])
	})

	t.Run("failed session surfaces message", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, app.store.SaveStatus(ctx, "broken", types.TaskStatus{
			Status:  types.StatusError,
			Message: "Analysis failed: insufficient data",
		}))

		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/analysis/broken", nil))
		require.Equal(t, http.StatusInternalServerError, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "error", body["status"])
		assert.Contains(t, body["error"], "insufficient data")
	})
}

func TestExportEndpoints(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	sessionID := uploadSample(t, router)
	waitForCompletion(t, router, sessionID)

	t.Run("csv download", func(t *testing.T) {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/export/"+sessionID+"/csv", nil))
		require.Equal(t, http.StatusOK, w.Code)

		assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
		assert.Contains(t, w.Header().Get("Content-Disposition"), "comprehensive_irt_analysis_"+sessionID+".csv")

		body := w.Body.String()
		assert.Contains(t, body, "COMPREHENSIVE IRT ANALYSIS REPORT")
		assert.Contains(t, body, "ITEM PARAMETERS")
		assert.Contains(t, body, "Q1,")
	})

	t.Run("json download", func(t *testing.T) {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/export/"+sessionID+"/json", nil))
		require.Equal(t, http.StatusOK, w.Code)

		assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
		assert.Contains(t, w.Header().Get("Content-Disposition"), "complete_irt_data_"+sessionID+".json")

		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		require.Contains(t, doc, "metadata")
		require.Contains(t, doc, "item_parameters")
		require.Contains(t, doc, "session_info")
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
		_, router := newTestApplication(t, engine.URL)

		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "memory", body["store"])
		require.Contains(t, body, "services")
	})

	t.Run("engine down reports degraded", func(t *testing.T) {
		engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
		_, router := newTestApplication(t, engine.URL)
		engine.Close()

		w := doRequest(router, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body["status"])
	})
}

func TestVersionEndpoint(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "IRT Analysis Platform", body["name"])
	assert.NotEmpty(t, body["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	sessionID := uploadSample(t, router)
	waitForCompletion(t, router, sessionID)

	w := doRequest(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	for _, key := range []string{"requests", "model_cache", "rate_limiter", "compression", "engine_pool", "queue_depth"} {
		assert.Contains(t, body, key)
	}

	requests, ok := body["requests"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, requests, "uploads_accepted")
	assert.Contains(t, requests, "analyses_completed")
}

func TestSecurityHeadersPresent(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestCompressedResponses(t *testing.T) {
	engine := stubEngine(t, map[string]bool{"3PL": true, "2PL": true})
	_, router := newTestApplication(t, engine.URL)

	sessionID := uploadSample(t, router)
	waitForCompletion(t, router, sessionID)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+sessionID, nil)
	req.Header.Set("Accept-Encoding", "gzip")

	w := doRequest(router, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.True(t, strings.Contains(w.Header().Get("Vary"), "Accept-Encoding"))
}
