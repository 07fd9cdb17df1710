package timers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
)

const sweepBatchSize = 100

// Hook receives a timed state after the sweeper flips its phase. Hooks run
// after the claim commits, so at most one sweeper ever invokes them for a
// given state.
type Hook func(ctx context.Context, ts *TimedState)

// Sweeper periodically activates due states, expires overdue ones, and runs
// registered background maintenance (risk decay).
type Sweeper struct {
	store     Store
	interval  time.Duration
	onActive  Hook
	onExpired Hook
	// maintenance funcs run once per sweep after timer processing.
	maintenance []func(ctx context.Context, now time.Time) error

	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

type SweeperOption func(*Sweeper)

// OnActivated registers a hook for states moved scheduled -> active.
func OnActivated(h Hook) SweeperOption { return func(s *Sweeper) { s.onActive = h } }

// OnExpired registers a hook for states moved active -> expired.
func OnExpired(h Hook) SweeperOption { return func(s *Sweeper) { s.onExpired = h } }

// WithMaintenance registers extra periodic work, such as risk decay.
func WithMaintenance(fn func(ctx context.Context, now time.Time) error) SweeperOption {
	return func(s *Sweeper) { s.maintenance = append(s.maintenance, fn) }
}

// WithSweeperClock overrides the time source.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(store Store, interval time.Duration, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		interval: interval,
		logger:   logging.WithComponent(logger, "sweeper"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It returns immediately; the loop runs until
// Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("sweeper started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("sweeper stopped", "reason", "context cancelled")
				return
			case <-s.stop:
				s.logger.Info("sweeper stopped")
				return
			case <-ticker.C:
				s.safeSweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}

// safeSweep runs one sweep, recovering from panics so a bad hook can't kill
// the loop.
func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", "panic", r)
		}
	}()
	s.Sweep(ctx)
}

// Sweep performs one pass: activate due states, expire overdue ones, run
// maintenance, refresh the active gauge. Exported so tests and the engine
// can drive it synchronously.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	activated, err := s.store.ClaimActivatable(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("claiming activatable states", "error", err)
	}
	for _, ts := range activated {
		s.logger.Info("timed state activated", "timer_id", ts.ID, "kind", ts.Kind)
		if s.onActive != nil {
			s.onActive(ctx, ts)
		}
	}

	expired, err := s.store.ClaimExpired(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("claiming expired states", "error", err)
	}
	for _, ts := range expired {
		metrics.TimedStatesExpiredTotal.WithLabelValues(ts.Kind).Inc()
		s.logger.Info("timed state expired", "timer_id", ts.ID, "kind", ts.Kind, "owner_id", ts.OwnerID)
		if s.onExpired != nil {
			s.onExpired(ctx, ts)
		}
	}

	for _, fn := range s.maintenance {
		if err := fn(ctx, now); err != nil {
			s.logger.Error("maintenance task failed", "error", err)
		}
	}

	if active, err := s.store.CountActive(ctx); err == nil {
		metrics.TimedStatesActive.Set(float64(active))
	}
}
