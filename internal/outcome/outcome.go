// Package outcome converts a player action plus accumulated risk into a
// probabilistic success/failure roll.
//
// Every feature that used to roll its own dice (missions, chases, audits,
// battles) goes through one resolver: base rate, ordered modifiers, a
// per-action risk penalty, a clamped probability band, and a seedable RNG so
// identical inputs reproduce identical outcomes.
package outcome

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("action attempt not found")
	ErrInvalidRate = errors.New("base success rate must be in [0,100]")
)

// Outcome is the result of a resolved attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ModifierKind declares how a modifier combines with the running probability.
type ModifierKind string

const (
	ModifierAdditive       ModifierKind = "additive"
	ModifierMultiplicative ModifierKind = "multiplicative"
)

// Modifier adjusts the success probability. Additive modifiers apply first,
// then multiplicative, each group in declared order, so results are
// reproducible regardless of where the modifiers came from.
type Modifier struct {
	Name  string       `json:"name"`
	Kind  ModifierKind `json:"kind"`
	Value float64      `json:"value"`
}

// Attempt is an immutable record of one resolved action.
// Numeric fields never change after resolution; only the narrative may be
// attached later when the content service responds.
type Attempt struct {
	ID                  string     `json:"id"`
	ActorID             string     `json:"actorId"`
	ActionType          string     `json:"actionType"`
	TargetID            string     `json:"targetId,omitempty"`
	BaseSuccessRate     float64    `json:"baseSuccessRate"`
	Modifiers           []Modifier `json:"modifiers,omitempty"`
	RiskPenalty         float64    `json:"riskPenalty"`
	ResolvedProbability float64    `json:"resolvedProbability"`
	RollValue           float64    `json:"rollValue"`
	Outcome             Outcome    `json:"outcome"`
	Narrative           string     `json:"narrative,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Succeeded reports whether the attempt resolved as a success.
func (a *Attempt) Succeeded() bool { return a.Outcome == OutcomeSuccess }

// Store persists attempts as append-only facts.
type Store interface {
	Record(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	ListByActor(ctx context.Context, actorID string, limit int) ([]*Attempt, error)
	// AttachNarrative fills the narrative of an already-recorded attempt.
	// The numeric fields of the attempt are never touched.
	AttachNarrative(ctx context.Context, id, narrative string) error
}
