// Package tenant provides multi-tenancy for the ChurnGuard platform.
//
// A tenant (a "client" in the wire protocol) is a website or application
// identified by its API key. Every event, profile, and prediction is scoped
// to exactly one tenant. API keys are issued once at provisioning time and
// stored as SHA-256 hashes.
package tenant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/churnguard/churnguard/internal/idgen"
)

// Errors
var (
	ErrClientNotFound = errors.New("tenant: client not found")
	ErrInvalidAPIKey  = errors.New("tenant: invalid API key")
	ErrNameRequired   = errors.New("tenant: name is required")
)

// Client represents a website/application using the platform.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"-"` // SHA-256 hash of the raw API key
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed,omitempty"`
}

// Store persists clients.
type Store interface {
	Create(ctx context.Context, c *Client) error
	Get(ctx context.Context, id string) (*Client, error)
	GetByKeyHash(ctx context.Context, hash string) (*Client, error)
	Update(ctx context.Context, c *Client) error
	List(ctx context.Context) ([]*Client, error)
}

// Resolver maps raw API keys to client IDs.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Provision creates a new client and returns the raw API key.
// The raw key is shown exactly once; only its hash is stored.
func (r *Resolver) Provision(ctx context.Context, name string) (rawKey string, client *Client, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, ErrNameRequired
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	rawKey = "cg_" + hex.EncodeToString(raw)

	client = &Client{
		ID:        idgen.WithPrefix("cli_"),
		Name:      name,
		KeyHash:   HashKey(rawKey),
		CreatedAt: time.Now(),
	}

	if err := r.store.Create(ctx, client); err != nil {
		return "", nil, err
	}
	return rawKey, client, nil
}

// Resolve validates a raw API key and returns the owning client's ID.
// Unknown or malformed keys return ErrInvalidAPIKey.
func (r *Resolver) Resolve(ctx context.Context, rawKey string) (string, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" || !strings.HasPrefix(rawKey, "cg_") {
		return "", ErrInvalidAPIKey
	}

	client, err := r.store.GetByKeyHash(ctx, HashKey(rawKey))
	if err != nil {
		return "", ErrInvalidAPIKey
	}

	// Update last used (fire and forget)
	go func() {
		client.LastUsed = time.Now()
		_ = r.store.Update(context.Background(), client)
	}()

	return client.ID, nil
}

// HashKey returns the hex SHA-256 digest of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
