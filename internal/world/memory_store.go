package world

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu          sync.Mutex
	territories map[string]*Territory
	factions    map[string]*Faction
	auctions    map[string]*Auction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		territories: make(map[string]*Territory),
		factions:    make(map[string]*Faction),
		auctions:    make(map[string]*Auction),
	}
}

func (s *MemoryStore) GetTerritory(ctx context.Context, id string) (*Territory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.territories[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.Neighbors = append([]string(nil), t.Neighbors...)
	return &cp, nil
}

func (s *MemoryStore) PutTerritory(ctx context.Context, t *Territory, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.territories[t.ID]
	if ok && cur.Version != expectedVersion {
		return ErrConcurrencyConflict
	}
	if !ok && expectedVersion != 0 {
		return ErrConcurrencyConflict
	}
	cp := *t
	cp.Neighbors = append([]string(nil), t.Neighbors...)
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	s.territories[cp.ID] = &cp
	t.Version = cp.Version
	return nil
}

func (s *MemoryStore) ListTerritories(ctx context.Context, limit int) ([]*Territory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Territory, 0, len(s.territories))
	for _, t := range s.territories {
		cp := *t
		cp.Neighbors = append([]string(nil), t.Neighbors...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetFaction(ctx context.Context, id string) (*Faction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.factions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) PutFaction(ctx context.Context, f *Faction, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.factions[f.ID]
	if ok && cur.Version != expectedVersion {
		return ErrConcurrencyConflict
	}
	if !ok && expectedVersion != 0 {
		return ErrConcurrencyConflict
	}
	cp := *f
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	s.factions[cp.ID] = &cp
	f.Version = cp.Version
	return nil
}

func (s *MemoryStore) CreateAuction(ctx context.Context, a *Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.Version = 1
	s.auctions[cp.ID] = &cp
	a.Version = cp.Version
	return nil
}

func (s *MemoryStore) GetAuction(ctx context.Context, id string) (*Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAuction(ctx context.Context, a *Auction, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.auctions[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrencyConflict
	}
	cp := *a
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	s.auctions[cp.ID] = &cp
	a.Version = cp.Version
	a.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *MemoryStore) ListOpenAuctions(ctx context.Context, limit int) ([]*Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Auction
	for _, a := range s.auctions {
		if a.Status == AuctionOpen {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosesAt.Before(out[j].ClosesAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
