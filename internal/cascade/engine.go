package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mbd888/omerta/internal/idgen"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
	"github.com/mbd888/omerta/internal/retry"
)

const (
	// DefaultMaxDepth and DefaultMaxFanout bound a cascade to
	// fanout + fanout^2 events beyond the origin.
	DefaultMaxDepth  = 2
	DefaultMaxFanout = 5

	// DefaultAttenuation scales each hop's magnitude down.
	DefaultAttenuation = 0.5

	// DefaultMaxMagnitude caps any single effect.
	DefaultMaxMagnitude = 25.0

	// magnitudeEpsilon stops propagation once effects become negligible.
	magnitudeEpsilon = 0.5
)

// Engine propagates consequences outward from an origin event.
type Engine struct {
	resolver     TargetResolver
	applier      Applier
	store        Store
	maxDepth     int
	maxFanout    int
	attenuation  float64
	maxMagnitude float64
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Engine)

func WithMaxDepth(n int) Option        { return func(e *Engine) { e.maxDepth = n } }
func WithMaxFanout(n int) Option       { return func(e *Engine) { e.maxFanout = n } }
func WithAttenuation(f float64) Option { return func(e *Engine) { e.attenuation = f } }
func WithMaxMagnitude(m float64) Option {
	return func(e *Engine) { e.maxMagnitude = m }
}
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(resolver TargetResolver, applier Applier, store Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		resolver:     resolver,
		applier:      applier,
		store:        store,
		maxDepth:     DefaultMaxDepth,
		maxFanout:    DefaultMaxFanout,
		attenuation:  DefaultAttenuation,
		maxMagnitude: DefaultMaxMagnitude,
		logger:       logging.WithComponent(logger, "cascade"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Propagate expands the origin into a bounded tree of effects, records them,
// and applies the whole batch. The origin's own effect is depth zero; each
// hop attenuates the magnitude and touches at most maxFanout neighbors, to
// at most maxDepth hops.
func (e *Engine) Propagate(ctx context.Context, origin Origin) (*Result, error) {
	now := e.now().UTC()
	root := &Event{
		ID:         idgen.WithPrefix("csc"),
		OriginID:   origin.ID,
		EntityType: origin.EntityType,
		EntityID:   origin.EntityID,
		EffectType: origin.EffectType,
		Magnitude:  e.clampMagnitude(origin.Magnitude),
		Depth:      0,
		CreatedAt:  now,
	}

	seen := map[string]bool{dedupKey(origin.ID, root.EntityType, root.EntityID, root.EffectType): true}
	events := []*Event{root}
	frontier := []*Event{root}
	truncated := false

	for depth := 1; depth <= e.maxDepth; depth++ {
		var next []*Event
		for _, parent := range frontier {
			childMag := parent.Magnitude * e.attenuation
			if math.Abs(childMag) < magnitudeEpsilon {
				continue
			}
			// Ask for one extra neighbor to detect truncation.
			targets, err := e.resolver.RelatedEntities(ctx, parent.EntityType, parent.EntityID, e.maxFanout+1)
			if err != nil {
				return nil, fmt.Errorf("resolving neighbors of %s/%s: %w", parent.EntityType, parent.EntityID, err)
			}
			if len(targets) > e.maxFanout {
				targets = targets[:e.maxFanout]
				truncated = true
				metrics.CascadeTruncationsTotal.Inc()
			}
			for _, target := range targets {
				key := dedupKey(origin.ID, target.Type, target.ID, origin.EffectType)
				if seen[key] {
					continue
				}
				seen[key] = true
				child := &Event{
					ID:         idgen.WithPrefix("csc"),
					OriginID:   origin.ID,
					ParentID:   parent.ID,
					EntityType: target.Type,
					EntityID:   target.ID,
					EffectType: origin.EffectType,
					Magnitude:  e.clampMagnitude(childMag),
					Depth:      depth,
					CreatedAt:  now,
				}
				events = append(events, child)
				next = append(next, child)
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	if err := e.store.RecordBatch(ctx, events); err != nil {
		return nil, fmt.Errorf("recording cascade: %w", err)
	}

	// Apply the batch as a unit. A transient failure retries the whole
	// batch; appliers are idempotent per batch.
	err := retry.Do(ctx, 3, 25*time.Millisecond, func() error {
		return e.applier.ApplyBatch(ctx, events)
	})
	if err != nil {
		return nil, fmt.Errorf("applying cascade: %w", err)
	}

	for _, ev := range events {
		metrics.CascadeEventsTotal.WithLabelValues(ev.EffectType).Inc()
	}
	e.logger.Info("cascade propagated",
		"origin_id", origin.ID,
		"effect_type", origin.EffectType,
		"events", len(events),
		"truncated", truncated,
	)
	return &Result{Events: events, Truncated: truncated}, nil
}

// History returns the recorded events of a past cascade.
func (e *Engine) History(ctx context.Context, originID string) ([]*Event, error) {
	return e.store.ListByOrigin(ctx, originID)
}

func (e *Engine) clampMagnitude(m float64) float64 {
	if m > e.maxMagnitude {
		return e.maxMagnitude
	}
	if m < -e.maxMagnitude {
		return -e.maxMagnitude
	}
	return m
}

func dedupKey(originID, entityType, entityID, effectType string) string {
	return originID + "|" + entityType + "|" + entityID + "|" + effectType
}
