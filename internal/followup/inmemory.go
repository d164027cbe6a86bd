package followup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) (Record, error) {
	record.LastError = scrubError(record.LastError)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.records {
		if existing.AttemptID == record.AttemptID && existing.ResolvedAt == nil {
			existing.Attempts++
			existing.LastError = record.LastError
			existing.Completion = record.Completion
			s.records[id] = existing
			return existing, nil
		}
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Attempts <= 0 {
		record.Attempts = 1
	}
	s.records[record.ID] = record
	return record, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) Resolve(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.ResolvedAt == nil {
		now := time.Now().UTC()
		r.ResolvedAt = &now
		s.records[id] = r
	}
	return nil
}

func (s *InMemoryStore) List(_ context.Context, opts ListOptions) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.ResolvedAt != nil && !opts.IncludeResolved {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
