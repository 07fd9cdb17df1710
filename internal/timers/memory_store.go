package timers

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"
)

// heapItem is a lazy entry: the authoritative phase lives in the states map,
// so popped items whose state has since moved on are discarded.
type heapItem struct {
	id string
	at time.Time
}

type timeHeap []heapItem

func (h timeHeap) Len() int            { return len(h) }
func (h timeHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timeHeap) Push(x any)         { *h = append(*h, x.(heapItem)) }
func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryStore is an in-memory Store backed by min-heaps on activation and
// expiry times. Claims mutate under the lock, so each due state is returned
// to exactly one caller.
type MemoryStore struct {
	mu        sync.Mutex
	states    map[string]*TimedState
	scheduled timeHeap // ordered by ActivatesAt
	active    timeHeap // ordered by ExpiresAt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*TimedState)}
}

func (s *MemoryStore) Create(ctx context.Context, ts *TimedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ts
	cp.Version = 1
	s.states[cp.ID] = &cp
	s.push(&cp)
	ts.Version = cp.Version
	return nil
}

// push must be called with the lock held.
func (s *MemoryStore) push(ts *TimedState) {
	switch ts.Phase {
	case PhaseScheduled:
		heap.Push(&s.scheduled, heapItem{id: ts.ID, at: ts.ActivatesAt})
	case PhaseActive:
		heap.Push(&s.active, heapItem{id: ts.ID, at: ts.ExpiresAt})
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*TimedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ts
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, ts *TimedState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[ts.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrencyConflict
	}
	cp := *ts
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	s.states[cp.ID] = &cp
	// Stale heap entries for the old phase are discarded lazily on claim.
	if cur.Phase != cp.Phase {
		s.push(&cp)
	}
	ts.Version = cp.Version
	ts.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*TimedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TimedState
	for _, ts := range s.states {
		if ts.OwnerID == ownerID {
			cp := *ts
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ClaimActivatable(ctx context.Context, now time.Time, limit int) ([]*TimedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TimedState
	for len(out) < limit && s.scheduled.Len() > 0 {
		top := s.scheduled[0]
		if top.at.After(now) {
			break
		}
		heap.Pop(&s.scheduled)
		ts, ok := s.states[top.id]
		if !ok || ts.Phase != PhaseScheduled {
			continue // stale entry
		}
		ts.Phase = PhaseActive
		ts.Version++
		ts.UpdatedAt = now
		heap.Push(&s.active, heapItem{id: ts.ID, at: ts.ExpiresAt})
		cp := *ts
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*TimedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TimedState
	for len(out) < limit && s.active.Len() > 0 {
		top := s.active[0]
		if top.at.After(now) {
			break
		}
		heap.Pop(&s.active)
		ts, ok := s.states[top.id]
		if !ok || ts.Phase != PhaseActive || ts.ExpiresAt.After(now) {
			continue // stale entry
		}
		ts.Phase = PhaseExpired
		ts.Version++
		ts.UpdatedAt = now
		cp := *ts
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) CountActive(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ts := range s.states {
		if ts.Phase == PhaseActive {
			n++
		}
	}
	return n, nil
}
