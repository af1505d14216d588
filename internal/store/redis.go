package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantpsych/irt-platform/internal/irt"
	"github.com/quantpsych/irt-platform/internal/types"
)

// RedisStore persists session artifacts as JSON values with a shared
// TTL, so expiry needs no sweeping of our own.
type RedisStore struct {
	client *redis.Client
	addr   string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with a
// bounded ping before accepting any writes.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	slog.Info("Initializing Redis store", "addr", addr, "db", db)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	slog.Info("Redis store connected", "addr", addr)

	return &RedisStore{client: client, addr: addr, ttl: ttl}, nil
}

// Client exposes the underlying connection for components that share
// it, such as the distributed rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// SaveDataset stores the raw uploaded table for later curve requests.
func (s *RedisStore) SaveDataset(ctx context.Context, sessionID string, table *irt.Table) error {
	return s.setJSON(ctx, datasetPrefix+sessionID, table)
}

// Dataset loads the raw table for a session.
func (s *RedisStore) Dataset(ctx context.Context, sessionID string) (*irt.Table, error) {
	var table irt.Table
	if err := s.getJSON(ctx, datasetPrefix+sessionID, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// SaveStatus records the task lifecycle state for a session.
func (s *RedisStore) SaveStatus(ctx context.Context, sessionID string, status types.TaskStatus) error {
	return s.setJSON(ctx, statusPrefix+sessionID, status)
}

// Status loads the task lifecycle state for a session.
func (s *RedisStore) Status(ctx context.Context, sessionID string) (types.TaskStatus, error) {
	var status types.TaskStatus
	if err := s.getJSON(ctx, statusPrefix+sessionID, &status); err != nil {
		return types.TaskStatus{}, err
	}
	return status, nil
}

// SaveResult stores a finished analysis.
func (s *RedisStore) SaveResult(ctx context.Context, sessionID string, result *types.AnalysisResult) error {
	return s.setJSON(ctx, resultPrefix+sessionID, result)
}

// Result loads a finished analysis.
func (s *RedisStore) Result(ctx context.Context, sessionID string) (*types.AnalysisResult, error) {
	var result types.AnalysisResult
	if err := s.getJSON(ctx, resultPrefix+sessionID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Kind identifies the backing implementation for health reporting.
func (s *RedisStore) Kind() string {
	return "redis"
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	slog.Info("Closing Redis store connection")
	return s.client.Close()
}

// Stats returns connection pool statistics.
func (s *RedisStore) Stats() map[string]interface{} {
	stats := s.client.PoolStats()

	return map[string]interface{}{
		"kind":        "redis",
		"addr":        s.addr,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}

func (s *RedisStore) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}

	return nil
}
