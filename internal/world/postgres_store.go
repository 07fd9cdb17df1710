package world

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists world records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the world tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS territories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			controlling_faction TEXT,
			neighbors TEXT[] NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS factions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			home_territory TEXT,
			reputation DOUBLE PRECISION NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS auctions (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			status TEXT NOT NULL,
			high_bid BIGINT NOT NULL DEFAULT 0,
			high_bidder_id TEXT,
			min_increment BIGINT NOT NULL DEFAULT 1,
			bid_count BIGINT NOT NULL DEFAULT 0,
			closes_at TIMESTAMPTZ NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_auctions_open
			ON auctions(closes_at) WHERE status = 'open';
	`)
	return err
}

func (s *PostgresStore) GetTerritory(ctx context.Context, id string) (*Territory, error) {
	var t Territory
	var faction sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, controlling_faction, neighbors, version, updated_at
		FROM territories WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &faction, pq.Array(&t.Neighbors), &t.Version, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ControllingFaction = faction.String
	return &t, nil
}

func (s *PostgresStore) PutTerritory(ctx context.Context, t *Territory, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO territories (id, name, controlling_faction, neighbors, version, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, 1, NOW())`,
			t.ID, t.Name, t.ControllingFaction, pq.Array(t.Neighbors))
		if err == nil {
			t.Version = 1
		}
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE territories
		SET name = $2, controlling_faction = NULLIF($3, ''), neighbors = $4,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5
		RETURNING version`,
		t.ID, t.Name, t.ControllingFaction, pq.Array(t.Neighbors), expectedVersion)
	err := row.Scan(&t.Version)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetTerritory(ctx, t.ID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrConcurrencyConflict
	}
	return err
}

func (s *PostgresStore) ListTerritories(ctx context.Context, limit int) ([]*Territory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, controlling_faction, neighbors, version, updated_at
		FROM territories ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Territory
	for rows.Next() {
		var t Territory
		var faction sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &faction, pq.Array(&t.Neighbors), &t.Version, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.ControllingFaction = faction.String
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetFaction(ctx context.Context, id string) (*Faction, error) {
	var f Faction
	var home sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, home_territory, reputation, version, updated_at
		FROM factions WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &home, &f.Reputation, &f.Version, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.HomeTerritory = home.String
	return &f, nil
}

func (s *PostgresStore) PutFaction(ctx context.Context, f *Faction, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO factions (id, name, home_territory, reputation, version, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, 1, NOW())`,
			f.ID, f.Name, f.HomeTerritory, f.Reputation)
		if err == nil {
			f.Version = 1
		}
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE factions
		SET name = $2, home_territory = NULLIF($3, ''), reputation = $4,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5
		RETURNING version`,
		f.ID, f.Name, f.HomeTerritory, f.Reputation, expectedVersion)
	err := row.Scan(&f.Version)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetFaction(ctx, f.ID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrConcurrencyConflict
	}
	return err
}

func (s *PostgresStore) CreateAuction(ctx context.Context, a *Auction) error {
	a.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auctions
			(id, item_id, seller_id, status, high_bid, high_bidder_id, min_increment,
			 bid_count, closes_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)`,
		a.ID, a.ItemID, a.SellerID, a.Status, a.HighBid, a.HighBidderID,
		a.MinIncrement, a.BidCount, a.ClosesAt, a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*Auction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, seller_id, status, high_bid, COALESCE(high_bidder_id, ''),
		       min_increment, bid_count, closes_at, version, created_at, updated_at
		FROM auctions WHERE id = $1`, id)
	var a Auction
	err := row.Scan(&a.ID, &a.ItemID, &a.SellerID, &a.Status, &a.HighBid, &a.HighBidderID,
		&a.MinIncrement, &a.BidCount, &a.ClosesAt, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) UpdateAuction(ctx context.Context, a *Auction, expectedVersion int64) error {
	row := s.db.QueryRowContext(ctx, `
		UPDATE auctions
		SET status = $2, high_bid = $3, high_bidder_id = NULLIF($4, ''),
		    bid_count = $5, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $6
		RETURNING version, updated_at`,
		a.ID, a.Status, a.HighBid, a.HighBidderID, a.BidCount, expectedVersion)
	err := row.Scan(&a.Version, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetAuction(ctx, a.ID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrConcurrencyConflict
	}
	return err
}

func (s *PostgresStore) ListOpenAuctions(ctx context.Context, limit int) ([]*Auction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, seller_id, status, high_bid, COALESCE(high_bidder_id, ''),
		       min_increment, bid_count, closes_at, version, created_at, updated_at
		FROM auctions WHERE status = 'open'
		ORDER BY closes_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Auction
	for rows.Next() {
		var a Auction
		err := rows.Scan(&a.ID, &a.ItemID, &a.SellerID, &a.Status, &a.HighBid, &a.HighBidderID,
			&a.MinIncrement, &a.BidCount, &a.ClosesAt, &a.Version, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
