package account

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "pool.json"), nil)
	require.NoError(t, err)

	used := time.Now().Truncate(time.Second)
	accounts := []*Account{
		{
			Username:        "scout_1",
			Password:        "secret",
			Proxy:           "http://proxy:8080",
			Status:          StatusCooldown,
			LastUsed:        &used,
			OperationsToday: 42,
			HealthScore:     87.5,
			TotalOperations: 900,
			TotalErrors:     13,
			CreatedAt:       used.Add(-24 * time.Hour),
		},
		New("scout_2", "secret", ""),
	}

	require.NoError(t, store.Save(accounts))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "scout_1", loaded[0].Username)
	assert.Equal(t, StatusCooldown, loaded[0].Status)
	assert.Equal(t, 42, loaded[0].OperationsToday)
	assert.Equal(t, 87.5, loaded[0].HealthScore)
	require.NotNil(t, loaded[0].LastUsed)
	assert.True(t, used.Equal(*loaded[0].LastUsed))

	assert.Equal(t, "scout_2", loaded[1].Username)
	assert.Nil(t, loaded[1].LastUsed)
}

func TestStoreMissingFileYieldsEmptyPool(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "pool.json"), nil)
	require.NoError(t, err)

	accounts, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestStoreCorruptFileYieldsEmptyPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	store, err := NewStore(path, nil)
	require.NoError(t, err)

	accounts, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestStoreSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "pool.json"), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save([]*Account{New("scout_1", "secret", "")}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pool.json", entries[0].Name())
}
