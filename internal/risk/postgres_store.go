package risk

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
// Clamping is enforced in SQL so no writer can bypass it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed risk profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk profile table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_profiles (
			owner_type      VARCHAR(20) NOT NULL,
			owner_id        VARCHAR(64) NOT NULL,
			suspicion       DOUBLE PRECISION NOT NULL DEFAULT 0,
			heat            DOUBLE PRECISION NOT NULL DEFAULT 0,
			decay_per_hour  DOUBLE PRECISION NOT NULL DEFAULT 1.5,
			version         BIGINT NOT NULL DEFAULT 1,
			last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (owner_type, owner_id),
			CONSTRAINT chk_suspicion_range CHECK (suspicion >= 0 AND suspicion <= 100),
			CONSTRAINT chk_heat_range      CHECK (heat >= 0 AND heat <= 100)
		);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, ownerType, ownerID string) (*Profile, error) {
	prof := &Profile{OwnerType: ownerType, OwnerID: ownerID}

	err := p.db.QueryRowContext(ctx, `
		SELECT suspicion, heat, decay_per_hour, version, last_updated_at
		FROM risk_profiles WHERE owner_type = $1 AND owner_id = $2
	`, ownerType, ownerID).Scan(&prof.Suspicion, &prof.Heat, &prof.DecayRatePerHour, &prof.Version, &prof.LastUpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return prof, nil
}

func (p *PostgresStore) Create(ctx context.Context, prof *Profile) error {
	prof.Clamp()
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO risk_profiles (owner_type, owner_id, suspicion, heat, decay_per_hour, version, last_updated_at)
		VALUES ($1, $2, LEAST(GREATEST($3, 0), 100), LEAST(GREATEST($4, 0), 100), $5, 1, NOW())
		RETURNING version, last_updated_at
	`, prof.OwnerType, prof.OwnerID, prof.Suspicion, prof.Heat, prof.DecayRatePerHour).
		Scan(&prof.Version, &prof.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("create risk profile: %w", err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, prof *Profile, expectedVersion int64) error {
	err := p.db.QueryRowContext(ctx, `
		UPDATE risk_profiles SET
			suspicion       = LEAST(GREATEST($3, 0), 100),
			heat            = LEAST(GREATEST($4, 0), 100),
			decay_per_hour  = $5,
			version         = version + 1,
			last_updated_at = NOW()
		WHERE owner_type = $1 AND owner_id = $2 AND version = $6
		RETURNING suspicion, heat, version, last_updated_at
	`, prof.OwnerType, prof.OwnerID, prof.Suspicion, prof.Heat, prof.DecayRatePerHour, expectedVersion).
		Scan(&prof.Suspicion, &prof.Heat, &prof.Version, &prof.LastUpdatedAt)

	if err == sql.ErrNoRows {
		// Row missing entirely, or the version moved under us.
		if _, getErr := p.Get(ctx, prof.OwnerType, prof.OwnerID); getErr != nil {
			return getErr
		}
		return ErrConcurrencyConflict
	}
	return err
}

func (p *PostgresStore) List(ctx context.Context, ownerType string, limit int) ([]*Profile, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT owner_type, owner_id, suspicion, heat, decay_per_hour, version, last_updated_at
		FROM risk_profiles`
	args := []interface{}{}
	if ownerType != "" {
		query += ` WHERE owner_type = $1 ORDER BY last_updated_at DESC LIMIT $2`
		args = append(args, ownerType, limit)
	} else {
		query += ` ORDER BY last_updated_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Profile
	for rows.Next() {
		prof := &Profile{}
		if err := rows.Scan(&prof.OwnerType, &prof.OwnerID, &prof.Suspicion, &prof.Heat,
			&prof.DecayRatePerHour, &prof.Version, &prof.LastUpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, prof)
	}
	return result, rows.Err()
}
