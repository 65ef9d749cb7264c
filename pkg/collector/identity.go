package collector

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"
)

// IdentityStore persists the durable user identifier between runs.
// Implementations must tolerate concurrent use from one process.
type IdentityStore interface {
	// Load returns the stored user ID, or "" if none is stored.
	Load() (string, error)
	// Save persists the user ID.
	Save(userID string) error
}

// FileIdentityStore keeps the identity in a small JSON file. The zero
// value is not usable; use NewFileIdentityStore.
type FileIdentityStore struct {
	mu   sync.Mutex
	path string
}

// NewFileIdentityStore stores identity at the given file path.
func NewFileIdentityStore(path string) *FileIdentityStore {
	return &FileIdentityStore{path: path}
}

type identityFile struct {
	UserID string `json:"userId"`
}

func (s *FileIdentityStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", err
	}
	return f.UserID, nil
}

func (s *FileIdentityStore) Save(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(identityFile{UserID: userID})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// defaultIdentityStore persists identity under the user config dir, so an
// anonymous user stays the same user across restarts. Falls back to
// process-lifetime memory when no config dir is resolvable.
func defaultIdentityStore() IdentityStore {
	dir, err := os.UserConfigDir()
	if err != nil {
		return &memoryIdentityStore{}
	}
	return NewFileIdentityStore(filepath.Join(dir, "churnguard", "identity.json"))
}

// memoryIdentityStore is the fallback when no store is configured or the
// configured store fails: identity survives for the process lifetime only.
type memoryIdentityStore struct {
	mu     sync.Mutex
	userID string
}

func (s *memoryIdentityStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, nil
}

func (s *memoryIdentityStore) Save(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	return nil
}

// newAnonymousID synthesizes an anonymous identifier from two independent
// random base-36 strings. Collision probability is negligible.
func newAnonymousID() string {
	return "anon_" + randBase36() + randBase36()
}

// newSessionID combines randomness with wall-clock time so session IDs
// sort in creation order.
func newSessionID() string {
	return "sess_" + ulid.Make().String()
}

func newEventID() string {
	return "evt_" + ulid.Make().String()
}

const base36Len = 13

var base36Max = new(big.Int).Exp(big.NewInt(36), big.NewInt(base36Len), nil)

func randBase36() string {
	n, err := rand.Int(rand.Reader, base36Max)
	if err != nil {
		// crypto/rand is the only entropy source; without it there is no
		// safe identifier to mint.
		panic(err)
	}
	s := n.Text(36)
	for len(s) < base36Len {
		s = "0" + s
	}
	return s
}
