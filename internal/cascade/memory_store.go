package cascade

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	byOrigin map[string][]*Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrigin: make(map[string][]*Event)}
}

func (s *MemoryStore) RecordBatch(ctx context.Context, events []*Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		cp := *ev
		s.byOrigin[ev.OriginID] = append(s.byOrigin[ev.OriginID], &cp)
	}
	return nil
}

func (s *MemoryStore) ListByOrigin(ctx context.Context, originID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.byOrigin[originID]
	out := make([]*Event, len(events))
	for i, ev := range events {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}
