package timers

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists timed states in PostgreSQL. Claims use a single
// UPDATE ... RETURNING with FOR UPDATE SKIP LOCKED underneath, so concurrent
// sweepers never hand the same state to two callers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the timed_states table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS timed_states (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			payload JSONB,
			activates_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_timed_states_owner
			ON timed_states(owner_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_timed_states_due
			ON timed_states(phase, expires_at)
			WHERE phase IN ('scheduled', 'active');
	`)
	return err
}

const timedStateColumns = `id, kind, owner_id, phase, payload, activates_at, expires_at, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, ts *TimedState) error {
	ts.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timed_states
			(id, kind, owner_id, phase, payload, activates_at, expires_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ts.ID, ts.Kind, ts.OwnerID, ts.Phase, nullableJSON(ts.Payload),
		ts.ActivatesAt, ts.ExpiresAt, ts.Version, ts.CreatedAt, ts.UpdatedAt,
	)
	return err
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*TimedState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+timedStateColumns+` FROM timed_states WHERE id = $1`, id)
	return scanTimedState(row)
}

func (s *PostgresStore) Update(ctx context.Context, ts *TimedState, expectedVersion int64) error {
	row := s.db.QueryRowContext(ctx, `
		UPDATE timed_states
		SET phase = $2, payload = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $4
		RETURNING version, updated_at`,
		ts.ID, ts.Phase, nullableJSON(ts.Payload), expectedVersion,
	)
	err := row.Scan(&ts.Version, &ts.UpdatedAt)
	if err == sql.ErrNoRows {
		// Distinguish a missing row from a version mismatch.
		if _, getErr := s.Get(ctx, ts.ID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrConcurrencyConflict
	}
	return err
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*TimedState, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+timedStateColumns+` FROM timed_states
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTimedStates(rows)
}

func (s *PostgresStore) ClaimActivatable(ctx context.Context, now time.Time, limit int) ([]*TimedState, error) {
	return s.claim(ctx, PhaseScheduled, PhaseActive, "activates_at", now, limit)
}

func (s *PostgresStore) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*TimedState, error) {
	return s.claim(ctx, PhaseActive, PhaseExpired, "expires_at", now, limit)
}

// claim atomically flips due states from one phase to the next and returns
// them. SKIP LOCKED lets concurrent sweepers partition the due set instead
// of blocking on each other.
func (s *PostgresStore) claim(ctx context.Context, from, to Phase, dueColumn string, now time.Time, limit int) ([]*TimedState, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE timed_states
		SET phase = $1, version = version + 1, updated_at = $4
		WHERE id IN (
			SELECT id FROM timed_states
			WHERE phase = $2 AND `+dueColumn+` <= $4
			ORDER BY `+dueColumn+`
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+timedStateColumns,
		to, from, limit, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTimedStates(rows)
}

func (s *PostgresStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timed_states WHERE phase = 'active'`).Scan(&n)
	return n, err
}

func scanTimedState(row *sql.Row) (*TimedState, error) {
	var ts TimedState
	var payload sql.NullString
	err := row.Scan(&ts.ID, &ts.Kind, &ts.OwnerID, &ts.Phase, &payload,
		&ts.ActivatesAt, &ts.ExpiresAt, &ts.Version, &ts.CreatedAt, &ts.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		ts.Payload = []byte(payload.String)
	}
	return &ts, nil
}

func collectTimedStates(rows *sql.Rows) ([]*TimedState, error) {
	var out []*TimedState
	for rows.Next() {
		var ts TimedState
		var payload sql.NullString
		err := rows.Scan(&ts.ID, &ts.Kind, &ts.OwnerID, &ts.Phase, &payload,
			&ts.ActivatesAt, &ts.ExpiresAt, &ts.Version, &ts.CreatedAt, &ts.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if payload.Valid {
			ts.Payload = []byte(payload.String)
		}
		out = append(out, &ts)
	}
	return out, rows.Err()
}
