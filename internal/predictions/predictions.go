// Package predictions stores churn-risk predictions and decides when a
// cached one is fresh enough to serve instead of recomputing.
//
// Predictions are append-only history. The "current" prediction for a user
// is the most recent row created within the freshness TTL; anything older
// triggers a fresh scoring pass and a new row.
package predictions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/churnguard/churnguard/internal/event"
	"github.com/churnguard/churnguard/internal/idgen"
	"github.com/churnguard/churnguard/internal/metrics"
	"github.com/churnguard/churnguard/internal/profile"
	"github.com/churnguard/churnguard/internal/scoring"
)

var (
	ErrNotFound = errors.New("predictions: not found")
)

// Prediction is one scoring outcome for a user at a point in time.
type Prediction struct {
	ID          string            `json:"id"`
	ClientID    string            `json:"clientId"`
	UserID      string            `json:"userId"`
	RiskScore   float64           `json:"riskScore"`
	RiskFactors map[string]string `json:"riskFactors"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Store persists predictions.
type Store interface {
	Create(ctx context.Context, p *Prediction) error
	// LatestWithin returns the most recent prediction for (clientID, userID)
	// created after cutoff, or ErrNotFound.
	LatestWithin(ctx context.Context, clientID, userID string, cutoff time.Time) (*Prediction, error)
	// ListByClient returns the latest prediction per user for a tenant,
	// ordered by descending risk score.
	ListByClient(ctx context.Context, clientID string) ([]*Prediction, error)
}

// Service computes predictions behind a freshness cache.
type Service struct {
	store    Store
	events   event.Store
	profiles profile.Store
	ttl      time.Duration
	logger   *slog.Logger
}

func NewService(store Store, events event.Store, profiles profile.Store, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		events:   events,
		profiles: profiles,
		ttl:      ttl,
		logger:   logger.With("component", "predictions"),
	}
}

// Predict returns the current prediction for a user. A prediction created
// within the TTL is returned unchanged; otherwise the user is rescored and
// a new row appended.
func (s *Service) Predict(ctx context.Context, clientID, userID string, now time.Time) (*Prediction, error) {
	cached, err := s.store.LatestWithin(ctx, clientID, userID, now.Add(-s.ttl))
	if err == nil {
		metrics.PredictionCacheHitsTotal.Inc()
		return cached, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	events, err := s.events.ListByUser(ctx, clientID, userID, 0)
	if err != nil {
		return nil, err
	}

	prof, err := s.profiles.Get(ctx, clientID, userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			return nil, err
		}
		prof = nil
	}

	result := scoring.Compute(events, prof, now)

	pred := &Prediction{
		ID:          idgen.WithPrefix("pred_"),
		ClientID:    clientID,
		UserID:      userID,
		RiskScore:   result.Score,
		RiskFactors: result.Factors,
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, pred); err != nil {
		return nil, err
	}
	metrics.PredictionsComputedTotal.Inc()

	s.logger.Debug("prediction computed",
		"client_id", clientID,
		"user_id", userID,
		"risk_score", pred.RiskScore,
		"events", len(events))

	return pred, nil
}

// ListForClient returns the tenant's existing predictions ranked by risk,
// highest first. This path never computes.
func (s *Service) ListForClient(ctx context.Context, clientID string) ([]*Prediction, error) {
	return s.store.ListByClient(ctx, clientID)
}
