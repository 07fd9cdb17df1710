package outcome

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]*Attempt
	byActor  map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]*Attempt),
		byActor:  make(map[string][]string),
	}
}

func (s *MemoryStore) Record(ctx context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attempts[a.ID] = &cp
	s.byActor[a.ActorID] = append(s.byActor[a.ActorID], a.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListByActor(ctx context.Context, actorID string, limit int) ([]*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byActor[actorID]
	out := make([]*Attempt, 0, len(ids))
	for _, id := range ids {
		cp := *s.attempts[id]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AttachNarrative(ctx context.Context, id, narrative string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return ErrNotFound
	}
	a.Narrative = narrative
	return nil
}
