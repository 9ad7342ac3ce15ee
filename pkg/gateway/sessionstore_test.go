package gateway

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, passphrase string) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(t.TempDir(), passphrase)
	require.NoError(t, err)
	return store
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := newTestStore(t, "hunter2")

	blob := []byte(`{"session_token":"tok-abc","saved_at":"2026-08-31T10:00:00Z"}`)
	require.NoError(t, store.Save("scout_1", blob))

	loaded, err := store.Load("scout_1")
	require.NoError(t, err)
	assert.Equal(t, blob, loaded)
}

func TestSessionStoreBlobIsSealed(t *testing.T) {
	store := newTestStore(t, "hunter2")

	require.NoError(t, store.Save("scout_1", []byte("plaintext-session-token")))

	raw, err := os.ReadFile(store.Path("scout_1"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext-session-token")
}

func TestSessionStoreWrongPassphrase(t *testing.T) {
	dir := t.TempDir()

	store, err := NewSessionStore(dir, "right-passphrase")
	require.NoError(t, err)
	require.NoError(t, store.Save("scout_1", []byte("secret")))

	other, err := NewSessionStore(dir, "wrong-passphrase")
	require.NoError(t, err)

	_, err = other.Load("scout_1")
	assert.Error(t, err)
}

func TestSessionStoreLoadMissing(t *testing.T) {
	store := newTestStore(t, "hunter2")

	_, err := store.Load("nobody")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestSessionStoreDelete(t *testing.T) {
	store := newTestStore(t, "hunter2")

	require.NoError(t, store.Save("scout_1", []byte("secret")))
	require.True(t, store.Exists("scout_1"))

	require.NoError(t, store.Delete("scout_1"))
	assert.False(t, store.Exists("scout_1"))

	assert.NoError(t, store.Delete("scout_1"), "deleting a missing blob is not an error")
}

func TestSessionStoreOverwrite(t *testing.T) {
	store := newTestStore(t, "hunter2")

	require.NoError(t, store.Save("scout_1", []byte("first")))
	require.NoError(t, store.Save("scout_1", []byte("second")))

	loaded, err := store.Load("scout_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), loaded)
}
