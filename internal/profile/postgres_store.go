package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user_profiles table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_profiles (
		client_id   VARCHAR(64) NOT NULL,
		user_id     VARCHAR(255) NOT NULL,
		first_seen  TIMESTAMPTZ NOT NULL,
		last_active TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (client_id, user_id)
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating user_profiles: %w", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, clientID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (client_id, user_id, first_seen, last_active)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (client_id, user_id)
		DO UPDATE SET last_active = GREATEST(user_profiles.last_active, EXCLUDED.last_active)`,
		clientID, userID, at)
	if err != nil {
		return fmt.Errorf("touching profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, clientID, userID string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, user_id, first_seen, last_active
		FROM user_profiles
		WHERE client_id = $1 AND user_id = $2`,
		clientID, userID).Scan(&p.ClientID, &p.UserID, &p.FirstSeen, &p.LastActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return &p, nil
}
