// Package ledger applies the rewards and penalties of resolved actions to
// player state exactly once.
//
// Every commit carries an idempotency key derived from the event that caused
// it. Replaying a key returns the original entry without touching balances,
// so crashed pipelines can safely re-run. Rollbacks are themselves
// idempotent commits under the original key plus a ":rollback" suffix.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("ledger entry not found")
	ErrEmptyKey     = errors.New("idempotency key is required")
	ErrAlreadyEmpty = errors.New("entry has no effects to roll back")
)

// RollbackSuffix is appended to an entry's idempotency key to form the key
// of its compensating entry.
const RollbackSuffix = ":rollback"

// Entry is one committed reward or penalty. Money is in whole in-game
// dollars; stat deltas are free-form named scalars (reputation, respect,
// skill experience).
type Entry struct {
	ID             string             `json:"id"`
	IdempotencyKey string             `json:"idempotencyKey"`
	OwnerID        string             `json:"ownerId"`
	OriginID       string             `json:"originId,omitempty"`
	MoneyDelta     int64              `json:"moneyDelta"`
	StatDeltas     map[string]float64 `json:"statDeltas,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// Inverse returns the compensating deltas for this entry.
func (e *Entry) Inverse() (int64, map[string]float64) {
	stats := make(map[string]float64, len(e.StatDeltas))
	for k, v := range e.StatDeltas {
		stats[k] = -v
	}
	return -e.MoneyDelta, stats
}

// Balance is the accumulated state of one owner.
type Balance struct {
	OwnerID   string             `json:"ownerId"`
	Money     int64              `json:"money"`
	Stats     map[string]float64 `json:"stats,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Store persists entries and balances. Commit must atomically insert the
// entry and adjust the balance; when the key already exists it returns the
// original entry and applied=false with no balance change.
type Store interface {
	Commit(ctx context.Context, e *Entry) (entry *Entry, applied bool, err error)
	GetByKey(ctx context.Context, key string) (*Entry, error)
	GetBalance(ctx context.Context, ownerID string) (*Balance, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Entry, error)
}
