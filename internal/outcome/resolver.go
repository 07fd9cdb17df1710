package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/omerta/internal/idgen"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
	"github.com/mbd888/omerta/internal/risk"
)

// DefaultPenaltyCoeff is applied to an actor's suspicion for action types
// without an explicit penalty entry.
const DefaultPenaltyCoeff = 0.3

// Band bounds the resolved probability so no action is ever a guaranteed
// success or a guaranteed failure.
type Band struct {
	Floor float64
	Ceil  float64
}

// DefaultBand keeps every resolved probability in [5,95].
var DefaultBand = Band{Floor: 5, Ceil: 95}

// Clamp forces p into the band.
func (b Band) Clamp(p float64) float64 {
	if p < b.Floor {
		return b.Floor
	}
	if p > b.Ceil {
		return b.Ceil
	}
	return p
}

// PenaltyTable maps action types to the coefficient multiplied by the actor's
// suspicion to form the risk penalty. Missing entries use DefaultPenaltyCoeff.
type PenaltyTable map[string]float64

// Penalty computes the probability penalty for an action by an actor at the
// given suspicion level.
func (t PenaltyTable) Penalty(actionType string, suspicion float64) float64 {
	coeff, ok := t[actionType]
	if !ok {
		coeff = DefaultPenaltyCoeff
	}
	return coeff * suspicion
}

// Request describes one action to resolve. BaseSuccessRate and modifiers
// come from server-side content tables; externally supplied rates are
// clamped, never trusted.
type Request struct {
	ActorID         string
	ActionType      string
	TargetID        string
	BaseSuccessRate float64
	Modifiers       []Modifier
}

// Resolver turns requests into recorded attempts.
type Resolver struct {
	store     Store
	rng       RNG
	band      Band
	penalties PenaltyTable
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRNG overrides the roll source, typically with a seeded RNG in tests.
func WithRNG(r RNG) Option { return func(rs *Resolver) { rs.rng = r } }

// WithBand overrides the probability clamp band.
func WithBand(b Band) Option { return func(rs *Resolver) { rs.band = b } }

// WithPenaltyTable overrides per-action penalty coefficients.
func WithPenaltyTable(t PenaltyTable) Option { return func(rs *Resolver) { rs.penalties = t } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(rs *Resolver) { rs.now = now } }

func NewResolver(store Store, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:     store,
		rng:       NewRNG(),
		band:      DefaultBand,
		penalties: PenaltyTable{},
		logger:    logging.WithComponent(logger, "outcome"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Probability computes the final success probability for a request against a
// risk profile without rolling. Exposed so callers can preview odds.
func (r *Resolver) Probability(req Request, profile *risk.Profile) (prob, penalty float64, err error) {
	if req.BaseSuccessRate < 0 || req.BaseSuccessRate > 100 {
		return 0, 0, ErrInvalidRate
	}
	p := req.BaseSuccessRate
	for _, m := range req.Modifiers {
		if m.Kind == ModifierAdditive {
			p += m.Value
		}
	}
	for _, m := range req.Modifiers {
		if m.Kind == ModifierMultiplicative {
			p *= m.Value
		}
	}
	var suspicion float64
	if profile != nil {
		suspicion = profile.Suspicion
	}
	penalty = r.penalties.Penalty(req.ActionType, suspicion)
	p -= penalty
	return r.band.Clamp(p), penalty, nil
}

// Resolve computes the final probability, rolls once, and records the
// attempt. The returned attempt is immutable apart from the narrative, which
// is attached later by the engine.
func (r *Resolver) Resolve(ctx context.Context, req Request, profile *risk.Profile) (*Attempt, error) {
	prob, penalty, err := r.Probability(req, profile)
	if err != nil {
		return nil, err
	}
	roll := r.rng.Roll()
	result := OutcomeFailure
	if roll < prob {
		result = OutcomeSuccess
	}

	attempt := &Attempt{
		ID:                  idgen.WithPrefix("act"),
		ActorID:             req.ActorID,
		ActionType:          req.ActionType,
		TargetID:            req.TargetID,
		BaseSuccessRate:     req.BaseSuccessRate,
		Modifiers:           req.Modifiers,
		RiskPenalty:         penalty,
		ResolvedProbability: prob,
		RollValue:           roll,
		Outcome:             result,
		CreatedAt:           r.now().UTC(),
	}
	if err := r.store.Record(ctx, attempt); err != nil {
		return nil, fmt.Errorf("recording attempt: %w", err)
	}

	metrics.ActionsResolvedTotal.WithLabelValues(req.ActionType, string(result)).Inc()
	metrics.ResolvedProbability.Observe(prob)
	r.logger.Info("action resolved",
		"attempt_id", attempt.ID,
		"actor_id", req.ActorID,
		"action_type", req.ActionType,
		"probability", prob,
		"roll", roll,
		"outcome", result,
	)
	return attempt, nil
}

// AttachNarrative stores generated flavor text against a resolved attempt.
func (r *Resolver) AttachNarrative(ctx context.Context, id, narrative string) error {
	return r.store.AttachNarrative(ctx, id, narrative)
}

// Get returns a recorded attempt by ID.
func (r *Resolver) Get(ctx context.Context, id string) (*Attempt, error) {
	return r.store.Get(ctx, id)
}

// History returns an actor's most recent attempts.
func (r *Resolver) History(ctx context.Context, actorID string, limit int) ([]*Attempt, error) {
	return r.store.ListByActor(ctx, actorID, limit)
}
