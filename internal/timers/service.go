package timers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/omerta/internal/idgen"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
	"github.com/mbd888/omerta/internal/retry"
)

// Service drives phase transitions on timed states.
type Service struct {
	store      Store
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

type ServiceOption func(*Service)

func WithMaxRetries(n int) ServiceOption { return func(s *Service) { s.maxRetries = n } }

func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

func NewService(store Store, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		maxRetries: 3,
		logger:     logging.WithComponent(logger, "timers"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleRequest describes a new timed state. A zero or past ActivatesAt
// creates the state directly in the active phase.
type ScheduleRequest struct {
	Kind        string
	OwnerID     string
	Payload     json.RawMessage
	ActivatesAt time.Time
	ExpiresAt   time.Time
}

// Schedule creates a new timed state.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*TimedState, error) {
	now := s.now().UTC()
	if !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("expiry %s is not in the future", req.ExpiresAt)
	}
	phase := PhaseScheduled
	activates := req.ActivatesAt
	if activates.IsZero() || !activates.After(now) {
		phase = PhaseActive
		activates = now
	}
	if phase == PhaseScheduled && !req.ExpiresAt.After(activates) {
		return nil, fmt.Errorf("expiry %s precedes activation %s", req.ExpiresAt, activates)
	}

	ts := &TimedState{
		ID:          idgen.WithPrefix("tmr"),
		Kind:        req.Kind,
		OwnerID:     req.OwnerID,
		Phase:       phase,
		Payload:     req.Payload,
		ActivatesAt: activates,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, ts); err != nil {
		return nil, fmt.Errorf("creating timed state: %w", err)
	}
	s.logger.Info("timed state scheduled",
		"timer_id", ts.ID, "kind", ts.Kind, "owner_id", ts.OwnerID,
		"phase", ts.Phase, "expires_at", ts.ExpiresAt)
	return ts, nil
}

// Get returns a timed state by ID.
func (s *Service) Get(ctx context.Context, id string) (*TimedState, error) {
	return s.store.Get(ctx, id)
}

// ListByOwner returns an owner's timed states, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*TimedState, error) {
	return s.store.ListByOwner(ctx, ownerID, limit)
}

// Activate moves a scheduled state to active ahead of its ActivatesAt.
func (s *Service) Activate(ctx context.Context, id string) (*TimedState, error) {
	return s.advance(ctx, id, PhaseActive)
}

// Resolve completes an active state before it expires.
func (s *Service) Resolve(ctx context.Context, id string) (*TimedState, error) {
	return s.advance(ctx, id, PhaseResolved)
}

// Cancel aborts a scheduled or active state.
func (s *Service) Cancel(ctx context.Context, id string) (*TimedState, error) {
	return s.advance(ctx, id, PhaseCancelled)
}

// advance retries the CAS update on version conflicts with fresh reads, so a
// state that loses a race to the sweeper surfaces ErrInvalidTransition
// rather than silently double-transitioning.
func (s *Service) advance(ctx context.Context, id string, to Phase) (*TimedState, error) {
	var result *TimedState
	err := retry.Do(ctx, s.maxRetries, 10*time.Millisecond, func() error {
		ts, err := s.store.Get(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := ts.Transition(to); err != nil {
			return retry.Permanent(err)
		}
		if err := s.store.Update(ctx, ts, ts.Version); err != nil {
			if err == ErrConcurrencyConflict {
				metrics.CASConflictsTotal.WithLabelValues("timed_state").Inc()
				return err
			}
			return retry.Permanent(err)
		}
		result = ts
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("timed state advanced", "timer_id", id, "phase", to)
	return result, nil
}
