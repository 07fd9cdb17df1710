package events

import (
	"context"
	"sort"
	"sync"
)

// MemorySubscriptionStore is an in-memory SubscriptionStore.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*Subscription)}
}

func (s *MemorySubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copySub(sub)
	s.subs[cp.ID] = cp
	return nil
}

func (s *MemorySubscriptionStore) Get(ctx context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySub(sub), nil
}

func (s *MemorySubscriptionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

func (s *MemorySubscriptionStore) ListActive(ctx context.Context) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.Active {
			out = append(out, copySub(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copySub(s *Subscription) *Subscription {
	cp := *s
	cp.EventTypes = append([]EventType(nil), s.EventTypes...)
	return &cp
}
