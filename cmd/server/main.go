package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

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
	"github.com/quantpsych/irt-platform/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Structured logging setup
	logLevel := monitoring.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting IRT analysis platform",
		"version", version.Version,
		"commit", version.Commit,
		"engine_url", cfg.EngineURL,
		"workers", cfg.AnalysisWorkers)

	// Initialize monitoring system
	appMetrics := monitoring.NewMetrics()
	appLogger := monitoring.NewLogger(logLevel)

	// Result store: Redis when configured and reachable, in-memory
	// otherwise. Both honor the same TTL.
	st := store.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResultTTL)

	// Estimation pipeline: engine client -> fitter -> model cache ->
	// analysis service.
	engine := estimation.NewEngineClient(cfg.EngineURL, cfg.EngineTimeout, appLogger, appMetrics)
	fitter := irt.NewFitter(engine)
	modelCache := cache.NewModelCache(fitter, cfg.CacheTTL)
	service := analysis.NewService(modelCache, appLogger, appMetrics)
	exporter := export.NewExporter()

	// Worker pool draining the upload queue
	runner := jobs.NewRunner(service, st, appLogger, appMetrics, cfg.AnalysisWorkers, cfg.AnalysisQueueSize, cfg.JobTimeout)

	// The upload limiter shares the store's Redis connection when one
	// exists so limits hold across replicas.
	var redisClient *redis.Client
	if rs, ok := st.(*store.RedisStore); ok {
		redisClient = rs.Client()
	}
	limiterConfig := ratelimit.DefaultConfig()
	limiterConfig.UploadLimitPerMin = cfg.UploadRateLimit
	limiter := ratelimit.NewRateLimiter(redisClient, limiterConfig, appLogger, appMetrics)

	// Security middleware setup
	securityConfig := security.DefaultSecurityConfig()
	securityConfig.MaxUploadBytes = cfg.MaxUploadBytes
	securityConfig.RequestTimeout = cfg.RequestTimeout
	securityMiddleware := security.NewSecurityMiddleware(securityConfig)

	compressionMiddleware := middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig())

	// Periodic health checks keep /health responses warm
	health := resilience.NewHealthRegistry(5 * time.Second)
	health.Register("estimation_engine", engine.Health)
	health.Register("store", st.Ping)

	healthCtx, stopHealth := context.WithCancel(context.Background())
	go health.Start(healthCtx, 30*time.Second)

	app := &application{
		cfg:         cfg,
		logger:      appLogger,
		metrics:     appMetrics,
		store:       st,
		engine:      engine,
		modelCache:  modelCache,
		service:     service,
		exporter:    exporter,
		runner:      runner,
		limiter:     limiter,
		compression: compressionMiddleware,
		security:    securityMiddleware,
		health:      health,
		startedAt:   time.Now(),
	}

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: app.setupRouter(),
	}

	go func() {
		slog.Info("Starting server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Drain in-flight analyses before releasing their dependencies
	runner.Stop()
	stopHealth()
	modelCache.Close()
	limiter.Close()
	engine.Close()
	if err := st.Close(); err != nil {
		slog.Error("Failed to close result store", "error", err)
	}

	slog.Info("Server exited")
}
