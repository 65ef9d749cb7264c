package predictions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps predictions in memory. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []*Prediction
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Create(ctx context.Context, p *Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	cp.RiskFactors = copyFactors(p.RiskFactors)
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *MemoryStore) LatestWithin(ctx context.Context, clientID, userID string, cutoff time.Time) (*Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Prediction
	for _, p := range s.rows {
		if p.ClientID != clientID || p.UserID != userID {
			continue
		}
		if !p.CreatedAt.After(cutoff) {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	cp.RiskFactors = copyFactors(latest.RiskFactors)
	return &cp, nil
}

func (s *MemoryStore) ListByClient(ctx context.Context, clientID string) ([]*Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Latest row per user, then rank by risk.
	latest := make(map[string]*Prediction)
	for _, p := range s.rows {
		if p.ClientID != clientID {
			continue
		}
		if cur, ok := latest[p.UserID]; !ok || p.CreatedAt.After(cur.CreatedAt) {
			latest[p.UserID] = p
		}
	}

	result := make([]*Prediction, 0, len(latest))
	for _, p := range latest {
		cp := *p
		cp.RiskFactors = copyFactors(p.RiskFactors)
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RiskScore != result[j].RiskScore {
			return result[i].RiskScore > result[j].RiskScore
		}
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

func copyFactors(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
