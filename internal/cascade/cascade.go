// Package cascade fans consequences of one event out to related entities:
// a botched heist raises heat on the crew, the crew's territory, and the
// businesses in it.
//
// Propagation is breadth-first with hard caps on depth and per-node fanout,
// deduplicates repeated (origin, entity, effect) combinations, and applies
// each cascade as one batch so a half-applied cascade never becomes visible.
package cascade

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("cascade event not found")
)

// Entity identifies a world entity a cascade can touch.
type Entity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Event is one propagated consequence.
type Event struct {
	ID         string    `json:"id"`
	OriginID   string    `json:"originId"`
	ParentID   string    `json:"parentId,omitempty"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	EffectType string    `json:"effectType"`
	Magnitude  float64   `json:"magnitude"`
	Depth      int       `json:"depth"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Origin seeds a cascade: the triggering record (attempt or timer) and the
// effect it applies to its own entity at depth zero.
type Origin struct {
	ID         string
	EntityType string
	EntityID   string
	EffectType string
	Magnitude  float64
}

// Result is the outcome of one propagation.
type Result struct {
	Events    []*Event `json:"events"`
	Truncated bool     `json:"truncated"`
}

// TargetResolver finds the entities adjacent to a given one. The world
// package implements this over faction and territory links.
type TargetResolver interface {
	RelatedEntities(ctx context.Context, entityType, entityID string, limit int) ([]Entity, error)
}

// Applier applies a full batch of cascade effects. A failed batch is retried
// as a unit; implementations must tolerate re-application of the same batch.
type Applier interface {
	ApplyBatch(ctx context.Context, events []*Event) error
}

// Store persists cascade events for audit and replay.
type Store interface {
	RecordBatch(ctx context.Context, events []*Event) error
	ListByOrigin(ctx context.Context, originID string) ([]*Event, error)
}
