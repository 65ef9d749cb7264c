package tenant

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed client store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

// Migrate creates the clients table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS clients (
			id          VARCHAR(36) PRIMARY KEY,
			name        VARCHAR(200) NOT NULL,
			key_hash    VARCHAR(64) NOT NULL UNIQUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used   TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_clients_key_hash ON clients(key_hash);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, c *Client) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, key_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.Name, c.KeyHash, c.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Client, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, created_at, last_used
		FROM clients WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetByKeyHash(ctx context.Context, hash string) (*Client, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, created_at, last_used
		FROM clients WHERE key_hash = $1
	`, hash))
}

func (p *PostgresStore) Update(ctx context.Context, c *Client) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE clients SET name = $2, last_used = $3 WHERE id = $1
	`, c.ID, c.Name, nullTime(c.LastUsed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrClientNotFound
	}
	return err
}

func (p *PostgresStore) List(ctx context.Context) ([]*Client, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, key_hash, created_at, last_used
		FROM clients ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		c := &Client{}
		var lastUsed sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.KeyHash, &c.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			c.LastUsed = lastUsed.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Client, error) {
	c := &Client{}
	var lastUsed sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.KeyHash, &c.CreatedAt, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		c.LastUsed = lastUsed.Time
	}
	return c, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
