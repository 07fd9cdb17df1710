package outcome

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists attempts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the action_attempts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS action_attempts (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			target_id TEXT,
			base_success_rate DOUBLE PRECISION NOT NULL,
			modifiers JSONB NOT NULL DEFAULT '[]',
			risk_penalty DOUBLE PRECISION NOT NULL,
			resolved_probability DOUBLE PRECISION NOT NULL,
			roll_value DOUBLE PRECISION NOT NULL,
			outcome TEXT NOT NULL,
			narrative TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_action_attempts_actor
			ON action_attempts(actor_id, created_at DESC);
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Attempt) error {
	mods, err := json.Marshal(a.Modifiers)
	if err != nil {
		return fmt.Errorf("marshaling modifiers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_attempts
			(id, actor_id, action_type, target_id, base_success_rate, modifiers,
			 risk_penalty, resolved_probability, roll_value, outcome, narrative, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)`,
		a.ID, a.ActorID, a.ActionType, a.TargetID, a.BaseSuccessRate, mods,
		a.RiskPenalty, a.ResolvedProbability, a.RollValue, a.Outcome, a.Narrative, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, actor_id, action_type, COALESCE(target_id, ''), base_success_rate,
		       modifiers, risk_penalty, resolved_probability, roll_value, outcome,
		       COALESCE(narrative, ''), created_at
		FROM action_attempts WHERE id = $1`, id)
	return scanAttempt(row)
}

func (s *PostgresStore) ListByActor(ctx context.Context, actorID string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, action_type, COALESCE(target_id, ''), base_success_rate,
		       modifiers, risk_penalty, resolved_probability, roll_value, outcome,
		       COALESCE(narrative, ''), created_at
		FROM action_attempts
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AttachNarrative(ctx context.Context, id, narrative string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_attempts SET narrative = $2 WHERE id = $1`, id, narrative)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var mods []byte
	err := row.Scan(&a.ID, &a.ActorID, &a.ActionType, &a.TargetID, &a.BaseSuccessRate,
		&mods, &a.RiskPenalty, &a.ResolvedProbability, &a.RollValue, &a.Outcome,
		&a.Narrative, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(mods, &a.Modifiers); err != nil {
		return nil, fmt.Errorf("unmarshaling modifiers: %w", err)
	}
	return &a, nil
}
