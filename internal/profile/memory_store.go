package profile

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps profiles in a map. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func key(clientID, userID string) string {
	return clientID + "\x00" + userID
}

func (s *MemoryStore) Touch(ctx context.Context, clientID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(clientID, userID)
	p, ok := s.profiles[k]
	if !ok {
		s.profiles[k] = &Profile{
			ClientID:   clientID,
			UserID:     userID,
			FirstSeen:  at,
			LastActive: at,
		}
		return nil
	}
	if at.After(p.LastActive) {
		p.LastActive = at
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, clientID, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[key(clientID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}
