package predictions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PostgresStore persists predictions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the predictions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS predictions (
		id           VARCHAR(36) PRIMARY KEY,
		client_id    VARCHAR(64) NOT NULL,
		user_id      VARCHAR(255) NOT NULL,
		risk_score   DOUBLE PRECISION NOT NULL,
		risk_factors JSONB NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_client_user_created
		ON predictions(client_id, user_id, created_at DESC);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating predictions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, p *Prediction) error {
	factors, err := json.Marshal(p.RiskFactors)
	if err != nil {
		return fmt.Errorf("encoding risk factors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions (id, client_id, user_id, risk_score, risk_factors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.ClientID, p.UserID, p.RiskScore, factors, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting prediction: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestWithin(ctx context.Context, clientID, userID string, cutoff time.Time) (*Prediction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, user_id, risk_score, risk_factors, created_at
		FROM predictions
		WHERE client_id = $1 AND user_id = $2 AND created_at > $3
		ORDER BY created_at DESC
		LIMIT 1`,
		clientID, userID, cutoff)
	return scanPrediction(row)
}

func (s *PostgresStore) ListByClient(ctx context.Context, clientID string) ([]*Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (user_id)
		       id, client_id, user_id, risk_score, risk_factors, created_at
		FROM predictions
		WHERE client_id = $1
		ORDER BY user_id, created_at DESC`,
		clientID)
	if err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}
	defer rows.Close()

	var result []*Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DISTINCT ON forces user_id ordering; re-rank by risk here.
	sort.Slice(result, func(i, j int) bool {
		return result[i].RiskScore > result[j].RiskScore
	})
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row scanner) (*Prediction, error) {
	var p Prediction
	var factors []byte
	err := row.Scan(&p.ID, &p.ClientID, &p.UserID, &p.RiskScore, &factors, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning prediction: %w", err)
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &p.RiskFactors); err != nil {
			return nil, fmt.Errorf("decoding risk factors: %w", err)
		}
	}
	return &p, nil
}
