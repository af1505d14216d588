// Package config loads server configuration from environment variables via
// viper, with defaults suitable for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the validated runtime configuration for the server.
type Config struct {
	Port          int           `mapstructure:"port"`
	EngineURL     string        `mapstructure:"engine_url"`
	EngineTimeout time.Duration `mapstructure:"engine_timeout"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	ResultTTL time.Duration `mapstructure:"result_ttl"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`

	AnalysisWorkers   int           `mapstructure:"analysis_workers"`
	AnalysisQueueSize int           `mapstructure:"analysis_queue_size"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`

	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	UploadRateLimit int           `mapstructure:"upload_rate_limit"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads environment variables into a Config and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults double as the set of known keys: AutomaticEnv only
	// surfaces env values for keys viper has seen.
	v.SetDefault("port", 8080)
	v.SetDefault("engine_url", "http://localhost:8001")
	v.SetDefault("engine_timeout", "300s")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("result_ttl", "1h")
	v.SetDefault("cache_ttl", "1h")
	v.SetDefault("analysis_workers", 4)
	v.SetDefault("analysis_queue_size", 64)
	v.SetDefault("job_timeout", "15m")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")
	v.SetDefault("upload_rate_limit", 10)
	v.SetDefault("max_upload_bytes", 10*1024*1024)
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("log_level", "info")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and normalizes derived fields.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.EngineURL == "" {
		return fmt.Errorf("engine_url must not be empty")
	}
	if !strings.HasPrefix(c.EngineURL, "http://") && !strings.HasPrefix(c.EngineURL, "https://") {
		return fmt.Errorf("engine_url must be an http(s) URL: %s", c.EngineURL)
	}
	c.EngineURL = strings.TrimRight(c.EngineURL, "/")
	if c.EngineTimeout <= 0 {
		return fmt.Errorf("engine_timeout must be positive: %s", c.EngineTimeout)
	}
	if c.ResultTTL <= 0 {
		return fmt.Errorf("result_ttl must be positive: %s", c.ResultTTL)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive: %s", c.CacheTTL)
	}
	if c.AnalysisWorkers < 1 {
		return fmt.Errorf("analysis_workers must be at least 1: %d", c.AnalysisWorkers)
	}
	if c.AnalysisQueueSize < 1 {
		return fmt.Errorf("analysis_queue_size must be at least 1: %d", c.AnalysisQueueSize)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive: %s", c.JobTimeout)
	}
	if c.UploadRateLimit < 1 {
		return fmt.Errorf("upload_rate_limit must be at least 1: %d", c.UploadRateLimit)
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be positive: %d", c.MaxUploadBytes)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive: %s", c.RequestTimeout)
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return fmt.Errorf("allowed_origins must name at least one origin")
	}
	c.AllowedOrigins = origins

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		return fmt.Errorf("unknown log_level: %s", c.LogLevel)
	}
	return nil
}

// Addr returns the listen address derived from Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}
