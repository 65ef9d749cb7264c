package event

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	byID   map[string]struct{}
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]struct{})}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Insert(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID != "" {
		if _, exists := m.byID[e.ID]; exists {
			return ErrDuplicate
		}
		m.byID[e.ID] = struct{}{}
	}

	cp := *e
	if cp.Properties != nil {
		props := make(map[string]any, len(cp.Properties))
		for k, v := range cp.Properties {
			props[k] = v
		}
		cp.Properties = props
	}
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, clientID, userID string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events {
		if e.ClientID == clientID && e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}

	// Most recent first
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountByClient(ctx context.Context, clientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.events {
		if e.ClientID == clientID {
			n++
		}
	}
	return n, nil
}
