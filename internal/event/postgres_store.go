package event

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed event store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

// Migrate creates the events table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id          VARCHAR(64) PRIMARY KEY,
			client_id   VARCHAR(36) NOT NULL,
			user_id     VARCHAR(255),
			session_id  VARCHAR(255),
			event_type  VARCHAR(64) NOT NULL,
			page_url    TEXT,
			properties  JSONB,
			timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_events_client_user_ts
			ON events(client_id, user_id, timestamp DESC);
	`)
	return err
}

func (p *PostgresStore) Insert(ctx context.Context, e *Event) error {
	var props []byte
	if e.Properties != nil {
		var err error
		props, err = json.Marshal(e.Properties)
		if err != nil {
			return err
		}
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO events (id, client_id, user_id, session_id, event_type, page_url, properties, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.ClientID, nullStr(e.UserID), nullStr(e.SessionID), e.Type, nullStr(e.PageURL), props, e.Timestamp)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) ListByUser(ctx context.Context, clientID, userID string, limit int) ([]*Event, error) {
	query := `
		SELECT id, client_id, user_id, session_id, event_type, page_url, properties, timestamp
		FROM events
		WHERE client_id = $1 AND user_id = $2
		ORDER BY timestamp DESC`
	args := []any{clientID, userID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var userID, sessionID, pageURL sql.NullString
		var props []byte
		if err := rows.Scan(&e.ID, &e.ClientID, &userID, &sessionID, &e.Type, &pageURL, &props, &e.Timestamp); err != nil {
			return nil, err
		}
		e.UserID = userID.String
		e.SessionID = sessionID.String
		e.PageURL = pageURL.String
		if len(props) > 0 {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountByClient(ctx context.Context, clientID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE client_id = $1
	`, clientID).Scan(&n)
	return n, err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
