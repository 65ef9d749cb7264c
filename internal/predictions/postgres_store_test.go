//go:build integration

package predictions

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		db.ExecContext(ctx, "DELETE FROM predictions")
		db.Close()
	}

	return store, cleanup
}

func TestPostgres_CreateAndLatestWithin(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := store.Create(ctx, &Prediction{
		ID: "pred_pg_1", ClientID: "cli_pg", UserID: "user-a",
		RiskScore:   0.42,
		RiskFactors: map[string]string{"low_engagement": "User has very few interactions"},
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	p, err := store.LatestWithin(ctx, "cli_pg", "user-a", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("LatestWithin failed: %v", err)
	}
	if p.RiskScore != 0.42 {
		t.Errorf("Expected risk 0.42, got %v", p.RiskScore)
	}
	if p.RiskFactors["low_engagement"] == "" {
		t.Errorf("Risk factors not round-tripped: %v", p.RiskFactors)
	}

	// Outside the window the row is invisible.
	if _, err := store.LatestWithin(ctx, "cli_pg", "user-a", now.Add(time.Minute)); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound outside window, got %v", err)
	}
}

func TestPostgres_ListByClientRanked(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, score := range []float64{0.3, 0.8, 0.1} {
		err := store.Create(ctx, &Prediction{
			ID:        fmt.Sprintf("pred_pg_rank_%d", i),
			ClientID:  "cli_pg",
			UserID:    fmt.Sprintf("user-%d", i),
			RiskScore: score,
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	// A newer, lower-risk row for user-1 supersedes their 0.8 row.
	err := store.Create(ctx, &Prediction{
		ID: "pred_pg_rank_newer", ClientID: "cli_pg", UserID: "user-1",
		RiskScore: 0.2, CreatedAt: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	preds, err := store.ListByClient(ctx, "cli_pg")
	if err != nil {
		t.Fatalf("ListByClient failed: %v", err)
	}
	if len(preds) != 3 {
		t.Fatalf("Expected 3 predictions (latest per user), got %d", len(preds))
	}
	if preds[0].RiskScore != 0.3 || preds[1].RiskScore != 0.2 || preds[2].RiskScore != 0.1 {
		t.Errorf("Expected descending risk [0.3 0.2 0.1], got [%v %v %v]",
			preds[0].RiskScore, preds[1].RiskScore, preds[2].RiskScore)
	}
}
