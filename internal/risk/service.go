package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/omerta/internal/metrics"
)

// DefaultMaxRetries bounds CAS retry loops before surfacing a conflict.
const DefaultMaxRetries = 3

// Service is the only mutation path for risk profiles.
type Service struct {
	store      Store
	maxRetries int
	decayRate  float64
	now        func() time.Time
}

// NewService creates a risk service backed by the given store.
func NewService(store Store) *Service {
	return &Service{
		store:      store,
		maxRetries: DefaultMaxRetries,
		decayRate:  DefaultDecayRatePerHour,
		now:        time.Now,
	}
}

// WithMaxRetries overrides the CAS retry bound.
func (s *Service) WithMaxRetries(n int) *Service {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// WithDecayRate overrides the default decay rate for new profiles.
func (s *Service) WithDecayRate(perHour float64) *Service {
	s.decayRate = perHour
	return s
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns the profile for an owner, creating a zeroed default on first use.
func (s *Service) Get(ctx context.Context, ownerType, ownerID string) (*Profile, error) {
	p, err := s.store.Get(ctx, ownerType, ownerID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	fresh := &Profile{
		OwnerType:        ownerType,
		OwnerID:          ownerID,
		DecayRatePerHour: s.decayRate,
		Version:          1,
		LastUpdatedAt:    s.now(),
	}
	if err := s.store.Create(ctx, fresh); err != nil {
		// Another worker created it first; their copy wins.
		if existing, getErr := s.store.Get(ctx, ownerType, ownerID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return fresh, nil
}

// ApplyDelta adjusts an owner's scalars by the given deltas, retrying on
// version conflicts with fresh reads. After maxRetries the conflict surfaces
// to the caller with no partial mutation committed.
func (s *Service) ApplyDelta(ctx context.Context, ownerType, ownerID string, suspicionDelta, heatDelta float64, cause string) (*Profile, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		p, err := s.Get(ctx, ownerType, ownerID)
		if err != nil {
			return nil, err
		}

		updated := *p
		updated.Suspicion += suspicionDelta
		updated.Heat += heatDelta

		if err := s.store.Update(ctx, &updated, p.Version); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				metrics.CASConflictsTotal.WithLabelValues("risk_profile").Inc()
				lastErr = err
				continue
			}
			return nil, err
		}
		return &updated, nil
	}
	return nil, fmt.Errorf("apply delta (%s) for %s:%s: %w", cause, ownerType, ownerID, lastErr)
}

// DecayTick applies passive decay for the elapsed hours, floored at 0.
// Redundant calls are safe: once both scalars reach 0 the write is skipped,
// and the store's monotonically advancing LastUpdatedAt makes the elapsed
// computation in DecayDue non-amplifying.
func (s *Service) DecayTick(ctx context.Context, ownerType, ownerID string, elapsedHours float64) (*Profile, error) {
	if elapsedHours <= 0 {
		return s.Get(ctx, ownerType, ownerID)
	}

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		p, err := s.Get(ctx, ownerType, ownerID)
		if err != nil {
			return nil, err
		}

		drop := p.DecayRatePerHour * elapsedHours
		if p.Suspicion <= 0 && p.Heat <= 0 {
			return p, nil // nothing to decay
		}

		updated := *p
		updated.Suspicion -= drop
		updated.Heat -= drop

		if err := s.store.Update(ctx, &updated, p.Version); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				metrics.CASConflictsTotal.WithLabelValues("risk_profile").Inc()
				lastErr = err
				continue
			}
			return nil, err
		}
		return &updated, nil
	}
	return nil, fmt.Errorf("decay tick for %s:%s: %w", ownerType, ownerID, lastErr)
}

// DecayDue sweeps all profiles and applies decay based on each profile's own
// LastUpdatedAt. Called from the background loop; conflicts on individual
// profiles are skipped (the conflicting writer already advanced the clock).
func (s *Service) DecayDue(ctx context.Context, now time.Time) (int, error) {
	profiles, err := s.store.List(ctx, "", 0)
	if err != nil {
		return 0, err
	}

	decayed := 0
	for _, p := range profiles {
		if p.Suspicion <= 0 && p.Heat <= 0 {
			continue
		}
		elapsed := now.Sub(p.LastUpdatedAt).Hours()
		if elapsed <= 0 {
			continue
		}
		if _, err := s.DecayTick(ctx, p.OwnerType, p.OwnerID, elapsed); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return decayed, err
		}
		decayed++
	}
	return decayed, nil
}
