package predictions

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churnguard/churnguard/internal/event"
	"github.com/churnguard/churnguard/internal/profile"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *MemoryStore, *event.MemoryStore, *profile.MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	events := event.NewMemoryStore()
	profiles := profile.NewMemoryStore()
	svc := NewService(store, events, profiles, 24*time.Hour, slog.Default())
	return svc, store, events, profiles
}

func seedEvents(t *testing.T, events *event.MemoryStore, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, events.Insert(context.Background(), &event.Event{
			ID:        fmt.Sprintf("evt_%d_%d", at.UnixNano(), i),
			ClientID:  "cli_1",
			UserID:    "user-a",
			SessionID: fmt.Sprintf("sess_%d", i%3),
			Type:      event.TypePageView,
			Timestamp: at,
		}))
	}
}

func TestPredictComputesAndPersists(t *testing.T) {
	svc, store, events, _ := newTestService(t)
	ctx := context.Background()
	seedEvents(t, events, 10, testNow.Add(-time.Hour))

	pred, err := svc.Predict(ctx, "cli_1", "user-a", testNow)
	require.NoError(t, err)
	assert.NotEmpty(t, pred.ID)
	assert.Equal(t, "cli_1", pred.ClientID)
	assert.GreaterOrEqual(t, pred.RiskScore, 0.0)
	assert.LessOrEqual(t, pred.RiskScore, 1.0)

	stored, err := store.LatestWithin(ctx, "cli_1", "user-a", testNow.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, pred.ID, stored.ID)
}

func TestPredictNoEventsNeutral(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	pred, err := svc.Predict(context.Background(), "cli_1", "ghost", testNow)
	require.NoError(t, err)
	assert.Equal(t, 0.5, pred.RiskScore)
	assert.Contains(t, pred.RiskFactors, "no_data")
}

func TestPredictCacheHitWithinTTL(t *testing.T) {
	svc, _, events, _ := newTestService(t)
	ctx := context.Background()
	seedEvents(t, events, 10, testNow.Add(-time.Hour))

	first, err := svc.Predict(ctx, "cli_1", "user-a", testNow)
	require.NoError(t, err)

	// Same user 12 hours later: still inside the 24h window, so the cached
	// prediction comes back untouched even though history grew.
	seedEvents(t, events, 5, testNow.Add(11*time.Hour))
	second, err := svc.Predict(ctx, "cli_1", "user-a", testNow.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.RiskScore, second.RiskScore)
}

func TestPredictRecomputesAfterTTL(t *testing.T) {
	svc, store, events, _ := newTestService(t)
	ctx := context.Background()
	seedEvents(t, events, 10, testNow.Add(-time.Hour))

	first, err := svc.Predict(ctx, "cli_1", "user-a", testNow)
	require.NoError(t, err)

	second, err := svc.Predict(ctx, "cli_1", "user-a", testNow.Add(25*time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "stale cache should produce a new row")

	// Both rows survive: predictions are append-only history.
	all, err := store.ListByClient(ctx, "cli_1")
	require.NoError(t, err)
	assert.Len(t, all, 1, "list collapses to latest per user")
}

func TestPredictUsesProfileTenure(t *testing.T) {
	svc, _, events, profiles := newTestService(t)
	ctx := context.Background()
	seedEvents(t, events, 4, testNow.Add(-time.Hour))
	require.NoError(t, profiles.Touch(ctx, "cli_1", "user-a", testNow.Add(-2*24*time.Hour)))

	pred, err := svc.Predict(ctx, "cli_1", "user-a", testNow)
	require.NoError(t, err)
	assert.Contains(t, pred.RiskFactors, "new_user")
}

func TestListForClientRankedByRisk(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	for i, score := range []float64{0.2, 0.9, 0.5} {
		require.NoError(t, store.Create(ctx, &Prediction{
			ID:        fmt.Sprintf("pred_%d", i),
			ClientID:  "cli_1",
			UserID:    fmt.Sprintf("user-%d", i),
			RiskScore: score,
			CreatedAt: testNow,
		}))
	}

	preds, err := svc.ListForClient(ctx, "cli_1")
	require.NoError(t, err)
	require.Len(t, preds, 3)
	assert.Equal(t, 0.9, preds[0].RiskScore)
	assert.Equal(t, 0.5, preds[1].RiskScore)
	assert.Equal(t, 0.2, preds[2].RiskScore)
}

func TestListForClientLatestPerUser(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Prediction{
		ID: "pred_old", ClientID: "cli_1", UserID: "user-a",
		RiskScore: 0.9, CreatedAt: testNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, store.Create(ctx, &Prediction{
		ID: "pred_new", ClientID: "cli_1", UserID: "user-a",
		RiskScore: 0.1, CreatedAt: testNow,
	}))

	preds, err := svc.ListForClient(ctx, "cli_1")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "pred_new", preds[0].ID)
}
