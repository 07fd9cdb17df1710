package events

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresSubscriptionStore persists subscriptions in PostgreSQL.
type PostgresSubscriptionStore struct {
	db *sql.DB
}

func NewPostgresSubscriptionStore(db *sql.DB) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{db: db}
}

// Migrate creates the event_subscriptions table if it doesn't exist.
func (s *PostgresSubscriptionStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS event_subscriptions (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			event_types TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	types := make([]string, len(sub.EventTypes))
	for i, t := range sub.EventTypes {
		types[i] = string(t)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_subscriptions (id, url, secret, event_types, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.URL, sub.Secret, pq.Array(types), sub.Active, sub.CreatedAt)
	return err
}

func (s *PostgresSubscriptionStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, secret, event_types, active, created_at
		FROM event_subscriptions WHERE id = $1`, id)
	return scanSubscription(row.Scan)
}

func (s *PostgresSubscriptionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM event_subscriptions WHERE id = $1`, id)
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

func (s *PostgresSubscriptionStore) ListActive(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, secret, event_types, active, created_at
		FROM event_subscriptions WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubscription(scan func(...any) error) (*Subscription, error) {
	var sub Subscription
	var types []string
	err := scan(&sub.ID, &sub.URL, &sub.Secret, pq.Array(&types), &sub.Active, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.EventTypes = make([]EventType, len(types))
	for i, t := range types {
		sub.EventTypes[i] = EventType(t)
	}
	return &sub, nil
}
