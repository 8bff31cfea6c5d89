package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/gatelog/internal/gatelog/store"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
)

var _ store.AuditStore = (*LogStore)(nil)

// LogStore is an in-memory append-only access log.
// It is intended for use in tests and dev environments.
type LogStore struct {
	mu          sync.Mutex
	initialized int
	records     []types.LogRecord

	// FailWith, when set, is returned by Append instead of storing.
	FailWith error
}

func NewLogStore() *LogStore {
	return &LogStore{}
}

func (s *LogStore) EnsureInitialized(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized++
	return nil
}

func (s *LogStore) Append(_ context.Context, rec types.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.records = append(s.records, rec)
	return nil
}

// ListRecent returns up to limit records, newest first.
func (s *LogStore) ListRecent(_ context.Context, limit int) ([]types.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.LogRecord, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoggedAt.After(out[j].LoggedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *LogStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var deleted int64
	for _, rec := range s.records {
		if rec.LoggedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return deleted, nil
}

// Records returns a copy of all appended records.  Test-only helper.
func (s *LogStore) Records() []types.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.LogRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Initialized reports how many times EnsureInitialized was called.
func (s *LogStore) Initialized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}
