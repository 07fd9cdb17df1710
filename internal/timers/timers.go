// Package timers is the shared machinery for every delayed consequence in
// the world: mission completions, jail releases, business production cycles,
// heat cooldown windows.
//
// A TimedState moves scheduled -> active -> resolved/expired/cancelled.
// Terminal phases never transition again; a background sweeper expires
// overdue active states with a claim that fires exactly once even when
// several sweepers run concurrently.
package timers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("timed state not found")
	ErrConcurrencyConflict = errors.New("timed state was modified concurrently")
	ErrInvalidTransition   = errors.New("invalid phase transition")
)

// Phase is the lifecycle phase of a TimedState.
type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseActive    Phase = "active"
	PhaseResolved  Phase = "resolved"
	PhaseExpired   Phase = "expired"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseResolved || p == PhaseExpired || p == PhaseCancelled
}

var transitions = map[Phase][]Phase{
	PhaseScheduled: {PhaseActive, PhaseCancelled},
	PhaseActive:    {PhaseResolved, PhaseExpired, PhaseCancelled},
}

// CanTransition reports whether from -> to is a legal phase change.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TimedState is one pending consequence. Payload carries kind-specific
// context (mission ID, cell block, production batch) opaque to this package.
type TimedState struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	OwnerID     string          `json:"ownerId"`
	Phase       Phase           `json:"phase"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ActivatesAt time.Time       `json:"activatesAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Transition moves the state to a new phase, rejecting illegal moves.
func (ts *TimedState) Transition(to Phase) error {
	if !CanTransition(ts.Phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ts.Phase, to)
	}
	ts.Phase = to
	return nil
}

// Store persists timed states. Update is compare-and-swap on Version.
// ClaimActivatable and ClaimExpired atomically flip phases and return the
// claimed states, so each state is handed to exactly one caller.
type Store interface {
	Create(ctx context.Context, ts *TimedState) error
	Get(ctx context.Context, id string) (*TimedState, error)
	Update(ctx context.Context, ts *TimedState, expectedVersion int64) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*TimedState, error)
	// ClaimActivatable moves scheduled states whose ActivatesAt has passed
	// to active and returns them.
	ClaimActivatable(ctx context.Context, now time.Time, limit int) ([]*TimedState, error)
	// ClaimExpired moves active states whose ExpiresAt has passed to
	// expired and returns them.
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*TimedState, error)
	// CountActive returns the number of states in the active phase.
	CountActive(ctx context.Context) (int64, error)
}
