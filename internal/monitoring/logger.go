package monitoring

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Logger provides structured logging with helpers for the events this
// service cares about
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger writing to stdout
func NewLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// RequestLogger logs HTTP request details
func (l *Logger) RequestLogger(method, path, ip, userAgent string, statusCode int, duration time.Duration) {
	l.Info("HTTP Request",
		"method", method,
		"path", path,
		"ip", ip,
		"user_agent", userAgent,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// AnalysisLogger logs a completed analysis run
func (l *Logger) AnalysisLogger(sessionID string, modelType string, items, respondents int, duration time.Duration, cacheHit bool) {
	l.Info("Analysis Completed",
		"session_id", sessionID,
		"model_type", modelType,
		"items", items,
		"respondents", respondents,
		"duration_ms", duration.Milliseconds(),
		"cache_hit", cacheHit,
	)
}

// EngineLogger logs calls to the estimation engine
func (l *Logger) EngineLogger(operation, modelType string, statusCode int, duration time.Duration, success bool) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}

	l.Log(context.Background(), level, "Engine Call",
		"operation", operation,
		"model_type", modelType,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
		"success", success,
	)
}

// JobLogger logs analysis job lifecycle transitions
func (l *Logger) JobLogger(sessionID, taskID, status string, duration time.Duration) {
	l.Info("Analysis Job",
		"session_id", sessionID,
		"task_id", taskID,
		"status", status,
		"duration_ms", duration.Milliseconds(),
	)
}

// APIErrorLogger logs API errors with request context
func (l *Logger) APIErrorLogger(err error, method, path, ip string, statusCode int) {
	l.Error("API Error",
		"error", err.Error(),
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", strconv.Itoa(statusCode),
	)
}

// CacheLogger logs model cache operations
func (l *Logger) CacheLogger(operation, key string, hit bool, entries int) {
	l.Debug("Cache Operation",
		"operation", operation,
		"key", key,
		"hit", hit,
		"cache_size", entries,
	)
}

// SystemLogger logs system-level events
func (l *Logger) SystemLogger(event, details string) {
	l.Info("System Event",
		"event", event,
		"details", details,
		"uptime", time.Since(startTime).String(),
	)
}

// PerformanceLogger logs performance observations
func (l *Logger) PerformanceLogger(metric string, value float64, unit string) {
	l.Info("Performance Metric",
		"metric", metric,
		"value", value,
		"unit", unit,
	)
}

// ParseLevel maps a config string onto a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var startTime = time.Now()
