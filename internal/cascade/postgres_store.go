package cascade

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists cascade events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the cascade_events table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cascade_events (
			id TEXT PRIMARY KEY,
			origin_id TEXT NOT NULL,
			parent_id TEXT,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			effect_type TEXT NOT NULL,
			magnitude DOUBLE PRECISION NOT NULL,
			depth INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_cascade_events_origin
			ON cascade_events(origin_id, depth);
	`)
	return err
}

// RecordBatch inserts all events of one cascade in a single transaction.
func (s *PostgresStore) RecordBatch(ctx context.Context, events []*Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cascade_events
			(id, origin_id, parent_id, entity_type, entity_id, effect_type, magnitude, depth, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx, ev.ID, ev.OriginID, ev.ParentID,
			ev.EntityType, ev.EntityID, ev.EffectType, ev.Magnitude, ev.Depth, ev.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListByOrigin(ctx context.Context, originID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin_id, COALESCE(parent_id, ''), entity_type, entity_id,
		       effect_type, magnitude, depth, created_at
		FROM cascade_events
		WHERE origin_id = $1
		ORDER BY depth, created_at`, originID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var ev Event
		err := rows.Scan(&ev.ID, &ev.OriginID, &ev.ParentID, &ev.EntityType,
			&ev.EntityID, &ev.EffectType, &ev.Magnitude, &ev.Depth, &ev.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
