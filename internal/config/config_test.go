package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://localhost:8001", cfg.EngineURL)
	assert.Equal(t, 300*time.Second, cfg.EngineTimeout)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, time.Hour, cfg.ResultTTL)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 4, cfg.AnalysisWorkers)
	assert.Equal(t, 64, cfg.AnalysisQueueSize)
	assert.Equal(t, 15*time.Minute, cfg.JobTimeout)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 10, cfg.UploadRateLimit)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENGINE_URL", "http://r-service:8001/")
	t.Setenv("ENGINE_TIMEOUT", "120s")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RESULT_TTL", "30m")
	t.Setenv("ANALYSIS_WORKERS", "8")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "http://r-service:8001", cfg.EngineURL, "trailing slash is trimmed")
	assert.Equal(t, 2*time.Minute, cfg.EngineTimeout)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 30*time.Minute, cfg.ResultTTL)
	assert.Equal(t, 8, cfg.AnalysisWorkers)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:              8080,
			EngineURL:         "http://localhost:8001",
			EngineTimeout:     300 * time.Second,
			ResultTTL:         time.Hour,
			CacheTTL:          time.Hour,
			AnalysisWorkers:   4,
			AnalysisQueueSize: 64,
			JobTimeout:        15 * time.Minute,
			AllowedOrigins:    []string{"http://localhost:3000"},
			UploadRateLimit:   10,
			MaxUploadBytes:    1 << 20,
			RequestTimeout:    30 * time.Second,
			LogLevel:          "info",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"empty engine url", func(c *Config) { c.EngineURL = "" }},
		{"engine url without scheme", func(c *Config) { c.EngineURL = "r-service:8001" }},
		{"zero engine timeout", func(c *Config) { c.EngineTimeout = 0 }},
		{"zero result ttl", func(c *Config) { c.ResultTTL = 0 }},
		{"zero workers", func(c *Config) { c.AnalysisWorkers = 0 }},
		{"zero queue size", func(c *Config) { c.AnalysisQueueSize = 0 }},
		{"zero job timeout", func(c *Config) { c.JobTimeout = 0 }},
		{"zero upload limit", func(c *Config) { c.UploadRateLimit = 0 }},
		{"zero upload bytes", func(c *Config) { c.MaxUploadBytes = 0 }},
		{"no origins", func(c *Config) { c.AllowedOrigins = []string{" ", ""} }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateNormalizesOrigins(t *testing.T) {
	cfg := &Config{
		Port:              8080,
		EngineURL:         "http://localhost:8001",
		EngineTimeout:     time.Second,
		ResultTTL:         time.Hour,
		CacheTTL:          time.Hour,
		AnalysisWorkers:   1,
		AnalysisQueueSize: 1,
		JobTimeout:        time.Minute,
		AllowedOrigins:    []string{" http://a.example.com ", "", "http://b.example.com"},
		UploadRateLimit:   1,
		MaxUploadBytes:    1,
		RequestTimeout:    time.Second,
		LogLevel:          "WARN",
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"http://a.example.com", "http://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "warn", cfg.LogLevel)
}
