package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quantpsych/irt-platform/internal/analysis"
	"github.com/quantpsych/irt-platform/internal/cache"
	"github.com/quantpsych/irt-platform/internal/config"
	apperrors "github.com/quantpsych/irt-platform/internal/errors"
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
	"github.com/quantpsych/irt-platform/internal/version"
)

// application bundles the wired services behind the HTTP handlers so
// main and the tests build the router the same way.
type application struct {
	cfg         *config.Config
	logger      *monitoring.Logger
	metrics     *monitoring.Metrics
	store       store.Store
	engine      *estimation.EngineClient
	modelCache  *cache.ModelCache
	service     *analysis.Service
	exporter    *export.Exporter
	runner      *jobs.Runner
	limiter     *ratelimit.RateLimiter
	compression *middleware.CompressionMiddleware
	security    *security.SecurityMiddleware
	health      *resilience.HealthRegistry
	startedAt   time.Time
}

// setupRouter assembles the middleware chain and routes. Monitoring
// runs first so every request is counted, error handling next so
// downstream panics and c.Error calls produce the shared envelope.
func (app *application) setupRouter() *gin.Engine {
	r := gin.New()

	if err := r.SetTrustedProxies(app.security.Config().TrustedProxies); err != nil {
		app.logger.Warn("Failed to set trusted proxies", "error", err)
	}

	r.Use(monitoring.MonitoringMiddleware(app.metrics, app.logger))
	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())

	r.Use(app.security.SecurityHeaders)
	r.Use(app.security.RequestTimeout)
	r.Use(app.security.ValidateContentType)
	r.Use(app.security.MaxBodySize)

	r.Use(app.compression.Handler())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     app.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", app.handleHealth)
	r.GET("/metrics", app.handleMetrics)

	api := r.Group("/api")
	{
		api.POST("/upload", app.limiter.IPRateLimitMiddleware(), app.handleUpload)
		api.GET("/status/:session_id", app.handleStatus)
		api.GET("/analysis/:session_id", app.handleAnalysis)
		api.GET("/icc/:session_id", app.handleICC)
		api.GET("/iif/:session_id", app.handleIIF)
		api.GET("/tif/:session_id", app.handleTIF)
		api.GET("/export/:session_id/csv", app.handleExportCSV)
		api.GET("/export/:session_id/json", app.handleExportJSON)
		api.GET("/version", app.handleVersion)
	}

	return r
}

// respondError maps any error to the shared envelope and logs it with
// request context.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.ToAppError(err)
	apperrors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, appErr.Response())
}

// handleUpload accepts a multipart CSV, persists the raw table, and
// queues the analysis. Validation beyond file type and column count is
// deferred to the worker so uploads return quickly.
func (app *application) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, apperrors.NewSchemaError("no file provided in 'file' form field", nil))
		return
	}

	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".csv") {
		respondError(c, apperrors.NewSchemaError("only CSV files are supported", nil))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to open uploaded file", err))
		return
	}
	defer f.Close()

	table, err := irt.ReadTable(f)
	if err != nil {
		respondError(c, err)
		return
	}

	if len(table.Items) < 2 {
		respondError(c, apperrors.NewSchemaError("CSV must have at least 2 columns (student_id and items)", nil))
		return
	}

	if removed, ok := table.StripIDColumn(); ok {
		app.logger.Info("Dropped respondent identifier column", "column", removed, "items", len(table.Items))
	}

	sessionID := uuid.New().String()
	taskID := uuid.New().String()

	ctx := c.Request.Context()
	if err := app.store.SaveDataset(ctx, sessionID, table); err != nil {
		respondError(c, apperrors.NewInternalError("failed to store dataset", err))
		return
	}
	if err := app.store.SaveStatus(ctx, sessionID, types.TaskStatus{Status: types.StatusPending, Message: "Analysis queued"}); err != nil {
		respondError(c, apperrors.NewInternalError("failed to store task status", err))
		return
	}

	if err := app.runner.Submit(jobs.Task{TaskID: taskID, SessionID: sessionID}); err != nil {
		respondError(c, err)
		return
	}

	app.metrics.IncrementUploads()

	c.JSON(http.StatusOK, types.UploadResponse{
		TaskID:    taskID,
		SessionID: sessionID,
		Status:    types.StatusPending,
		Message:   "File uploaded successfully. Analysis started.",
	})
}

func (app *application) handleStatus(c *gin.Context) {
	sessionID := c.Param("session_id")

	status, err := app.store.Status(c.Request.Context(), sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			respondError(c, apperrors.NewNotFoundError("status", sessionID))
			return
		}
		respondError(c, apperrors.NewInternalError("failed to read task status", err))
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleAnalysis returns the finished result when one exists. A session
// that is still in flight answers 202 so clients keep polling; a failed
// session surfaces the worker's message.
func (app *application) handleAnalysis(c *gin.Context) {
	sessionID := c.Param("session_id")
	ctx := c.Request.Context()

	result, err := app.store.Result(ctx, sessionID)
	if err == nil {
		c.JSON(http.StatusOK, result)
		return
	}
	if err != store.ErrNotFound {
		respondError(c, apperrors.NewInternalError("failed to read analysis result", err))
		return
	}

	status, err := app.store.Status(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			respondError(c, apperrors.NewNotFoundError("analysis", sessionID))
			return
		}
		respondError(c, apperrors.NewInternalError("failed to read task status", err))
		return
	}

	if status.Status == types.StatusError {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": status.Message})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": types.StatusProcessing})
}

func (app *application) handleICC(c *gin.Context) {
	table, ok := app.dataset(c)
	if !ok {
		return
	}

	resp, err := app.service.ItemCurve(c.Request.Context(), c.Param("session_id"), table, c.Query("item_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (app *application) handleIIF(c *gin.Context) {
	table, ok := app.dataset(c)
	if !ok {
		return
	}

	resp, err := app.service.ItemInformation(c.Request.Context(), c.Param("session_id"), table)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (app *application) handleTIF(c *gin.Context) {
	table, ok := app.dataset(c)
	if !ok {
		return
	}

	resp, err := app.service.TestInformation(c.Request.Context(), c.Param("session_id"), table)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// dataset loads the stored table for curve endpoints, answering 404
// when the session is unknown or expired.
func (app *application) dataset(c *gin.Context) (*irt.Table, bool) {
	sessionID := c.Param("session_id")

	table, err := app.store.Dataset(c.Request.Context(), sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			respondError(c, apperrors.NewNotFoundError("session data", sessionID))
			return nil, false
		}
		respondError(c, apperrors.NewInternalError("failed to read dataset", err))
		return nil, false
	}

	return table, true
}

func (app *application) handleExportCSV(c *gin.Context) {
	result, ok := app.exportResult(c)
	if !ok {
		return
	}

	data, filename, err := app.exporter.CSV(result)
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to build CSV export", err))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", data)
}

func (app *application) handleExportJSON(c *gin.Context) {
	result, ok := app.exportResult(c)
	if !ok {
		return
	}

	data, filename, err := app.exporter.JSON(result)
	if err != nil {
		respondError(c, apperrors.NewInternalError("failed to build JSON export", err))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

// exportResult loads the finished result for export endpoints. Exports
// require a completed analysis, so anything else is 404.
func (app *application) exportResult(c *gin.Context) (*types.AnalysisResult, bool) {
	sessionID := c.Param("session_id")

	result, err := app.store.Result(c.Request.Context(), sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			respondError(c, apperrors.NewNotFoundError("analysis results", sessionID))
			return nil, false
		}
		respondError(c, apperrors.NewInternalError("failed to read analysis result", err))
		return nil, false
	}

	return result, true
}

func (app *application) handleHealth(c *gin.Context) {
	results := app.health.RunChecks(c.Request.Context())

	response := gin.H{
		"status":     "ok",
		"timestamp":  time.Now().Format(time.RFC3339),
		"version":    version.Version,
		"store":      app.store.Kind(),
		"uptime_sec": int64(time.Since(app.startedAt).Seconds()),
		"services":   results,
	}

	if !app.health.Healthy(results) {
		response["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (app *application) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp":    time.Now().Format(time.RFC3339),
		"requests":     app.metrics.GetStats(),
		"model_cache":  app.modelCache.Stats(),
		"rate_limiter": app.limiter.Stats(),
		"compression":  app.compression.GetStats(),
		"engine_pool":  app.engine.GetPoolStats(),
		"queue_depth":  app.runner.QueueDepth(),
	})
}

func (app *application) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.Info())
}
