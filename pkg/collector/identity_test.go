package collector

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileIdentityStoreRoundtrip(t *testing.T) {
	store := NewFileIdentityStore(filepath.Join(t.TempDir(), "identity.json"))

	id, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, id, "missing file reads as no identity")

	require.NoError(t, store.Save("user-42"))

	id, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)
}

func TestFileIdentityStoreCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "identity.json")
	store := NewFileIdentityStore(path)

	require.NoError(t, store.Save("user-7"))

	id, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "user-7", id)
}

func TestFileIdentityStoreOverwrite(t *testing.T) {
	store := NewFileIdentityStore(filepath.Join(t.TempDir(), "identity.json"))

	require.NoError(t, store.Save("anon_abc"))
	require.NoError(t, store.Save("user-9"))

	id, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "user-9", id)
}

func TestAnonymousIDFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newAnonymousID()
		assert.True(t, strings.HasPrefix(id, "anon_"))
		assert.Len(t, id, len("anon_")+2*base36Len)
		assert.False(t, seen[id], "anonymous IDs must not repeat")
		seen[id] = true
	}
}

func TestSessionAndEventIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(newSessionID(), "sess_"))
	assert.True(t, strings.HasPrefix(newEventID(), "evt_"))
	assert.NotEqual(t, newEventID(), newEventID())
}
