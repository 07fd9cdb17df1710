package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/omerta/internal/idgen"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
)

// Service commits and rolls back reward entries.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logging.WithComponent(logger, "ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CommitRequest describes one reward or penalty to apply.
type CommitRequest struct {
	IdempotencyKey string
	OwnerID        string
	OriginID       string
	MoneyDelta     int64
	StatDeltas     map[string]float64
	Reason         string
}

// Commit applies the deltas exactly once per idempotency key. Replays return
// the original entry and replayed=true.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*Entry, bool, error) {
	if req.IdempotencyKey == "" {
		return nil, false, ErrEmptyKey
	}
	entry := &Entry{
		ID:             idgen.WithPrefix("led"),
		IdempotencyKey: req.IdempotencyKey,
		OwnerID:        req.OwnerID,
		OriginID:       req.OriginID,
		MoneyDelta:     req.MoneyDelta,
		StatDeltas:     req.StatDeltas,
		Reason:         req.Reason,
		CreatedAt:      s.now().UTC(),
	}
	committed, applied, err := s.store.Commit(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("committing entry: %w", err)
	}
	if applied {
		metrics.LedgerCommitsTotal.WithLabelValues("applied").Inc()
		s.logger.Info("ledger entry committed",
			"entry_id", committed.ID,
			"owner_id", committed.OwnerID,
			"key", committed.IdempotencyKey,
			"money_delta", committed.MoneyDelta,
		)
	} else {
		metrics.LedgerCommitsTotal.WithLabelValues("replayed").Inc()
		s.logger.Info("ledger commit replayed",
			"entry_id", committed.ID,
			"key", committed.IdempotencyKey,
		)
	}
	return committed, !applied, nil
}

// Rollback commits the inverse of a previous entry. Rolling back the same
// key twice applies the compensation once.
func (s *Service) Rollback(ctx context.Context, key, reason string) (*Entry, error) {
	original, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading entry for rollback: %w", err)
	}
	money, stats := original.Inverse()
	if money == 0 && len(stats) == 0 {
		return nil, ErrAlreadyEmpty
	}
	entry, replayed, err := s.Commit(ctx, CommitRequest{
		IdempotencyKey: key + RollbackSuffix,
		OwnerID:        original.OwnerID,
		OriginID:       original.OriginID,
		MoneyDelta:     money,
		StatDeltas:     stats,
		Reason:         reason,
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		metrics.LedgerCommitsTotal.WithLabelValues("rolled_back").Inc()
	}
	return entry, nil
}

// Balance returns an owner's accumulated balance.
func (s *Service) Balance(ctx context.Context, ownerID string) (*Balance, error) {
	return s.store.GetBalance(ctx, ownerID)
}

// History returns an owner's most recent entries.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	return s.store.ListByOwner(ctx, ownerID, limit)
}
