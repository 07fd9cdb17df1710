package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists entries and balances in PostgreSQL. Commit runs the
// entry insert and balance upsert in one transaction keyed by a unique
// constraint on the idempotency key.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			origin_id TEXT,
			money_delta BIGINT NOT NULL,
			stat_deltas JSONB NOT NULL DEFAULT '{}',
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_owner
			ON ledger_entries(owner_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS ledger_balances (
			owner_id TEXT PRIMARY KEY,
			money BIGINT NOT NULL DEFAULT 0,
			stats JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresStore) Commit(ctx context.Context, e *Entry) (*Entry, bool, error) {
	stats, err := json.Marshal(e.StatDeltas)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling stat deltas: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, idempotency_key, owner_id, origin_id, money_delta, stat_deltas, reason, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8)`,
		e.ID, e.IdempotencyKey, e.OwnerID, e.OriginID, e.MoneyDelta, stats, e.Reason, e.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Key already committed; return the original without applying.
			existing, getErr := s.GetByKey(ctx, e.IdempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	// Stats merge on the balance happens in Go under the row lock.
	var curStats []byte
	var money int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_balances (owner_id, money, stats, updated_at)
		VALUES ($1, 0, '{}', NOW())
		ON CONFLICT (owner_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
		RETURNING money, stats`,
		e.OwnerID,
	).Scan(&money, &curStats)
	if err != nil {
		return nil, false, err
	}

	merged := map[string]float64{}
	if err := json.Unmarshal(curStats, &merged); err != nil {
		return nil, false, fmt.Errorf("unmarshaling balance stats: %w", err)
	}
	for k, v := range e.StatDeltas {
		merged[k] += v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ledger_balances
		SET money = $2, stats = $3, updated_at = NOW()
		WHERE owner_id = $1`,
		e.OwnerID, money+e.MoneyDelta, mergedJSON,
	)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, owner_id, COALESCE(origin_id, ''), money_delta,
		       stat_deltas, COALESCE(reason, ''), created_at
		FROM ledger_entries WHERE idempotency_key = $1`, key)
	return scanEntry(row.Scan)
}

func (s *PostgresStore) GetBalance(ctx context.Context, ownerID string) (*Balance, error) {
	var bal Balance
	var stats []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, money, stats, updated_at
		FROM ledger_balances WHERE owner_id = $1`, ownerID).
		Scan(&bal.OwnerID, &bal.Money, &stats, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Balance{OwnerID: ownerID, Stats: map[string]float64{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &bal.Stats); err != nil {
		return nil, fmt.Errorf("unmarshaling balance stats: %w", err)
	}
	return &bal, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idempotency_key, owner_id, COALESCE(origin_id, ''), money_delta,
		       stat_deltas, COALESCE(reason, ''), created_at
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(scan func(...any) error) (*Entry, error) {
	var e Entry
	var stats []byte
	err := scan(&e.ID, &e.IdempotencyKey, &e.OwnerID, &e.OriginID, &e.MoneyDelta,
		&stats, &e.Reason, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &e.StatDeltas); err != nil {
		return nil, fmt.Errorf("unmarshaling stat deltas: %w", err)
	}
	return &e, nil
}
