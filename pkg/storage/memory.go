package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/HatiCode/rackguard/pkg/actions"
)

// MemoryStore keeps action records in memory, bounded to a maximum count.
// Safe for concurrent use. Suitable for single-instance deployments; use
// RedisStore when records must survive restarts or be shared.
type MemoryStore struct {
	mu      sync.RWMutex
	records []actions.Record // oldest first
	byID    map[string]int   // id -> index into records
	maxLen  int
}

// NewMemoryStore creates an in-memory record store retaining at most maxLen
// records (oldest evicted first). maxLen <= 0 defaults to 10000.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		byID:   make(map[string]int),
		maxLen: maxLen,
	}
}

// Append implements ActionStore.
func (s *MemoryStore) Append(ctx context.Context, rec actions.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("duplicate record id %q", rec.ID)
	}

	if len(s.records) >= s.maxLen {
		evicted := s.records[0]
		s.records = s.records[1:]
		delete(s.byID, evicted.ID)
		for id := range s.byID {
			s.byID[id]--
		}
	}

	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, cloneRecord(rec))
	return nil
}

// List implements ActionStore. Newest records come first.
func (s *MemoryStore) List(ctx context.Context, entity string, limit int) ([]actions.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = len(s.records)
	}

	out := make([]actions.Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.records[i]
		if entity != "" && rec.Entity != entity {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

// Get implements ActionStore.
func (s *MemoryStore) Get(ctx context.Context, id string) (actions.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return actions.Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return actions.Record{}, false, nil
	}
	return cloneRecord(s.records[idx]), true, nil
}

// AttachOutcome implements ActionStore.
func (s *MemoryStore) AttachOutcome(ctx context.Context, id string, realized map[string]float64, rolledBack bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("record %q not found", id)
	}
	rec := &s.records[idx]
	rec.Realized = cloneMetrics(realized)
	rec.RolledBack = rolledBack
	return nil
}

// Len returns the number of stored records. Primarily for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(rec actions.Record) actions.Record {
	out := rec
	out.Params = cloneMetrics(rec.Params)
	out.Realized = cloneMetrics(rec.Realized)
	return out
}

func cloneMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
