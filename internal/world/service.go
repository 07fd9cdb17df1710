package world

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/omerta/internal/cascade"
	"github.com/mbd888/omerta/internal/idgen"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
	"github.com/mbd888/omerta/internal/retry"
)

// Service mediates all world mutations through CAS retry loops.
type Service struct {
	store      Store
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithMaxRetries(n int) Option { return func(s *Service) { s.maxRetries = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		maxRetries: 3,
		logger:     logging.WithComponent(logger, "world"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Territory returns a territory by ID.
func (s *Service) Territory(ctx context.Context, id string) (*Territory, error) {
	return s.store.GetTerritory(ctx, id)
}

// Territories lists known territories.
func (s *Service) Territories(ctx context.Context, limit int) ([]*Territory, error) {
	return s.store.ListTerritories(ctx, limit)
}

// SeedTerritory creates or replaces a territory definition. Used by world
// setup and migrations, not by gameplay.
func (s *Service) SeedTerritory(ctx context.Context, t *Territory) error {
	existing, err := s.store.GetTerritory(ctx, t.ID)
	if err == ErrNotFound {
		return s.store.PutTerritory(ctx, t, 0)
	}
	if err != nil {
		return err
	}
	return s.store.PutTerritory(ctx, t, existing.Version)
}

// SeedFaction creates or replaces a faction definition.
func (s *Service) SeedFaction(ctx context.Context, f *Faction) error {
	existing, err := s.store.GetFaction(ctx, f.ID)
	if err == ErrNotFound {
		return s.store.PutFaction(ctx, f, 0)
	}
	if err != nil {
		return err
	}
	return s.store.PutFaction(ctx, f, existing.Version)
}

// TransferControl moves a territory to a new controlling faction.
func (s *Service) TransferControl(ctx context.Context, territoryID, factionID string) (*Territory, error) {
	var result *Territory
	err := retry.Do(ctx, s.maxRetries, 10*time.Millisecond, func() error {
		t, err := s.store.GetTerritory(ctx, territoryID)
		if err != nil {
			return retry.Permanent(err)
		}
		t.ControllingFaction = factionID
		if err := s.store.PutTerritory(ctx, t, t.Version); err != nil {
			if err == ErrConcurrencyConflict {
				metrics.CASConflictsTotal.WithLabelValues("territory").Inc()
				return err
			}
			return retry.Permanent(err)
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("territory control transferred",
		"territory_id", territoryID, "faction_id", factionID)
	return result, nil
}

// AdjustReputation applies a delta to a faction's reputation.
func (s *Service) AdjustReputation(ctx context.Context, factionID string, delta float64) (*Faction, error) {
	var result *Faction
	err := retry.Do(ctx, s.maxRetries, 10*time.Millisecond, func() error {
		f, err := s.store.GetFaction(ctx, factionID)
		if err != nil {
			return retry.Permanent(err)
		}
		f.Reputation += delta
		if err := s.store.PutFaction(ctx, f, f.Version); err != nil {
			if err == ErrConcurrencyConflict {
				metrics.CASConflictsTotal.WithLabelValues("faction").Inc()
				return err
			}
			return retry.Permanent(err)
		}
		result = f
		return nil
	})
	return result, err
}

// CreateAuctionRequest describes a new auction.
type CreateAuctionRequest struct {
	ItemID       string
	SellerID     string
	StartingBid  int64
	MinIncrement int64
	ClosesAt     time.Time
}

// CreateAuction opens a new auction.
func (s *Service) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*Auction, error) {
	now := s.now().UTC()
	if !req.ClosesAt.After(now) {
		return nil, fmt.Errorf("auction close time %s is not in the future", req.ClosesAt)
	}
	if req.MinIncrement <= 0 {
		req.MinIncrement = 1
	}
	a := &Auction{
		ID:           idgen.WithPrefix("auc"),
		ItemID:       req.ItemID,
		SellerID:     req.SellerID,
		Status:       AuctionOpen,
		HighBid:      req.StartingBid,
		MinIncrement: req.MinIncrement,
		ClosesAt:     req.ClosesAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("creating auction: %w", err)
	}
	return a, nil
}

// Auction returns an auction by ID.
func (s *Service) Auction(ctx context.Context, id string) (*Auction, error) {
	return s.store.GetAuction(ctx, id)
}

// OpenAuctions lists auctions accepting bids.
func (s *Service) OpenAuctions(ctx context.Context, limit int) ([]*Auction, error) {
	return s.store.ListOpenAuctions(ctx, limit)
}

// PlaceBid records a bid. Concurrent bids serialize through CAS: each
// accepted bid strictly raises the high bid, and a bid that loses the race
// re-validates against the fresh record before retrying.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (*Auction, error) {
	var result *Auction
	err := retry.Do(ctx, s.maxRetries, 10*time.Millisecond, func() error {
		a, err := s.store.GetAuction(ctx, auctionID)
		if err != nil {
			return retry.Permanent(err)
		}
		if a.Status != AuctionOpen || !s.now().UTC().Before(a.ClosesAt) {
			return retry.Permanent(ErrAuctionClosed)
		}
		if amount < a.HighBid+a.MinIncrement {
			return retry.Permanent(fmt.Errorf("%w: need at least %d", ErrBidTooLow, a.HighBid+a.MinIncrement))
		}
		a.HighBid = amount
		a.HighBidderID = bidderID
		a.BidCount++
		if err := s.store.UpdateAuction(ctx, a, a.Version); err != nil {
			if err == ErrConcurrencyConflict {
				metrics.CASConflictsTotal.WithLabelValues("auction").Inc()
				return err
			}
			return retry.Permanent(err)
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bid placed",
		"auction_id", auctionID, "bidder_id", bidderID, "amount", amount)
	return result, nil
}

// CloseAuction finalizes an auction and returns it with the winning bid.
func (s *Service) CloseAuction(ctx context.Context, auctionID string) (*Auction, error) {
	var result *Auction
	err := retry.Do(ctx, s.maxRetries, 10*time.Millisecond, func() error {
		a, err := s.store.GetAuction(ctx, auctionID)
		if err != nil {
			return retry.Permanent(err)
		}
		if a.Status == AuctionClosed {
			result = a
			return nil
		}
		a.Status = AuctionClosed
		if err := s.store.UpdateAuction(ctx, a, a.Version); err != nil {
			if err == ErrConcurrencyConflict {
				return err
			}
			return retry.Permanent(err)
		}
		result = a
		return nil
	})
	return result, err
}

// RelatedEntities implements cascade.TargetResolver over territory and
// faction links: a territory fans out to its controller and neighbors, a
// faction to its home territory.
func (s *Service) RelatedEntities(ctx context.Context, entityType, entityID string, limit int) ([]cascade.Entity, error) {
	var out []cascade.Entity
	switch entityType {
	case "territory":
		t, err := s.store.GetTerritory(ctx, entityID)
		if err == ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if t.ControllingFaction != "" {
			out = append(out, cascade.Entity{Type: "faction", ID: t.ControllingFaction})
		}
		for _, n := range t.Neighbors {
			out = append(out, cascade.Entity{Type: "territory", ID: n})
		}
	case "faction", "crew":
		f, err := s.store.GetFaction(ctx, entityID)
		if err == ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if f.HomeTerritory != "" {
			out = append(out, cascade.Entity{Type: "territory", ID: f.HomeTerritory})
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
