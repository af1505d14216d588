package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantpsych/irt-platform/internal/irt"
	"github.com/quantpsych/irt-platform/internal/types"
)

// Key prefixes shared by all store implementations.
const (
	resultPrefix  = "analysis:"
	statusPrefix  = "status:"
	datasetPrefix = "dataset:"
)

// ErrNotFound reports a session key that was never written or whose
// entry has expired.
var ErrNotFound = errors.New("session not found")

// Store persists the per-session artifacts of an analysis: the raw
// uploaded table, the task status and the finished result. Entries
// share one TTL; an expired session is indistinguishable from an
// unknown one.
type Store interface {
	SaveDataset(ctx context.Context, sessionID string, table *irt.Table) error
	Dataset(ctx context.Context, sessionID string) (*irt.Table, error)

	SaveStatus(ctx context.Context, sessionID string, status types.TaskStatus) error
	Status(ctx context.Context, sessionID string) (types.TaskStatus, error)

	SaveResult(ctx context.Context, sessionID string, result *types.AnalysisResult) error
	Result(ctx context.Context, sessionID string) (*types.AnalysisResult, error)

	Ping(ctx context.Context) error
	Kind() string
	Close() error
}

// New selects a store implementation. Redis is used when an address is
// configured and reachable; otherwise the process degrades to the
// in-memory store and keeps serving.
func New(addr, password string, db int, ttl time.Duration) Store {
	if addr == "" {
		slog.Warn("Redis not configured, analysis results will be kept in memory")
		return NewMemoryStore(ttl)
	}

	rs, err := NewRedisStore(addr, password, db, ttl)
	if err != nil {
		slog.Error("Redis unreachable, falling back to in-memory result store", "addr", addr, "error", err)
		return NewMemoryStore(ttl)
	}

	return rs
}
