package risk

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory risk profile store for demo/development mode.
type MemoryStore struct {
	profiles map[string]*Profile
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory risk profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func key(ownerType, ownerID string) string {
	return ownerType + ":" + ownerID
}

func (m *MemoryStore) Get(ctx context.Context, ownerType, ownerID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[key(ownerType, ownerID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Create(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(p.OwnerType, p.OwnerID)
	if _, exists := m.profiles[k]; exists {
		return fmt.Errorf("profile %s already exists", k)
	}

	cp := *p
	cp.Clamp()
	if cp.Version == 0 {
		cp.Version = 1
	}
	if cp.LastUpdatedAt.IsZero() {
		cp.LastUpdatedAt = time.Now()
	}
	m.profiles[k] = &cp
	*p = cp
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Profile, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(p.OwnerType, p.OwnerID)
	stored, ok := m.profiles[k]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConcurrencyConflict
	}

	cp := *p
	cp.Clamp()
	cp.Version = expectedVersion + 1
	cp.LastUpdatedAt = time.Now()
	m.profiles[k] = &cp
	*p = cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, ownerType string, limit int) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Profile
	for _, p := range m.profiles {
		if ownerType != "" && p.OwnerType != ownerType {
			continue
		}
		cp := *p
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
