package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	byKey    map[string]*Entry
	byOwner  map[string][]string
	balances map[string]*Balance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:    make(map[string]*Entry),
		byOwner:  make(map[string][]string),
		balances: make(map[string]*Balance),
	}
}

func (s *MemoryStore) Commit(ctx context.Context, e *Entry) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[e.IdempotencyKey]; ok {
		cp := copyEntry(existing)
		return cp, false, nil
	}

	cp := copyEntry(e)
	s.byKey[cp.IdempotencyKey] = cp
	s.byOwner[cp.OwnerID] = append(s.byOwner[cp.OwnerID], cp.IdempotencyKey)

	bal, ok := s.balances[cp.OwnerID]
	if !ok {
		bal = &Balance{OwnerID: cp.OwnerID, Stats: make(map[string]float64)}
		s.balances[cp.OwnerID] = bal
	}
	bal.Money += cp.MoneyDelta
	for k, v := range cp.StatDeltas {
		bal.Stats[k] += v
	}
	bal.UpdatedAt = time.Now().UTC()

	return copyEntry(cp), true, nil
}

func (s *MemoryStore) GetByKey(ctx context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

func (s *MemoryStore) GetBalance(ctx context.Context, ownerID string) (*Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[ownerID]
	if !ok {
		return &Balance{OwnerID: ownerID, Stats: map[string]float64{}}, nil
	}
	cp := &Balance{OwnerID: bal.OwnerID, Money: bal.Money, UpdatedAt: bal.UpdatedAt, Stats: make(map[string]float64, len(bal.Stats))}
	for k, v := range bal.Stats {
		cp.Stats[k] = v
	}
	return cp, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.byOwner[ownerID]
	out := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		out = append(out, copyEntry(s.byKey[key]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	if e.StatDeltas != nil {
		cp.StatDeltas = make(map[string]float64, len(e.StatDeltas))
		for k, v := range e.StatDeltas {
			cp.StatDeltas[k] = v
		}
	}
	return &cp
}
