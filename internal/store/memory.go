package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quantpsych/irt-platform/internal/irt"
	"github.com/quantpsych/irt-platform/internal/types"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// MemoryStore is the single-process fallback when Redis is not
// available. Values round-trip through JSON so both implementations
// serve identical payloads, and a janitor sweeps expired entries.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	stop    chan struct{}
}

// NewMemoryStore creates an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	ms := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	go ms.janitor()

	return ms
}

// janitor removes expired entries periodically
func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.entries {
				if entry.expired() {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// SaveDataset stores the raw uploaded table for later curve requests.
func (s *MemoryStore) SaveDataset(ctx context.Context, sessionID string, table *irt.Table) error {
	return s.setJSON(datasetPrefix+sessionID, table)
}

// Dataset loads the raw table for a session.
func (s *MemoryStore) Dataset(ctx context.Context, sessionID string) (*irt.Table, error) {
	var table irt.Table
	if err := s.getJSON(datasetPrefix+sessionID, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// SaveStatus records the task lifecycle state for a session.
func (s *MemoryStore) SaveStatus(ctx context.Context, sessionID string, status types.TaskStatus) error {
	return s.setJSON(statusPrefix+sessionID, status)
}

// Status loads the task lifecycle state for a session.
func (s *MemoryStore) Status(ctx context.Context, sessionID string) (types.TaskStatus, error) {
	var status types.TaskStatus
	if err := s.getJSON(statusPrefix+sessionID, &status); err != nil {
		return types.TaskStatus{}, err
	}
	return status, nil
}

// SaveResult stores a finished analysis.
func (s *MemoryStore) SaveResult(ctx context.Context, sessionID string, result *types.AnalysisResult) error {
	return s.setJSON(resultPrefix+sessionID, result)
}

// Result loads a finished analysis.
func (s *MemoryStore) Result(ctx context.Context, sessionID string) (*types.AnalysisResult, error) {
	var result types.AnalysisResult
	if err := s.getJSON(resultPrefix+sessionID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping always succeeds; the in-memory store has no connection to lose.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Kind identifies the backing implementation for health reporting.
func (s *MemoryStore) Kind() string {
	return "memory"
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	close(s.stop)
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if !entry.expired() {
			count++
		}
	}
	return count
}

func (s *MemoryStore) setJSON(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	s.mu.Lock()
	s.entries[key] = memoryEntry{data: data, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) getJSON(key string, out interface{}) error {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.expired() {
		return ErrNotFound
	}

	if err := json.Unmarshal(entry.data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}

	return nil
}
