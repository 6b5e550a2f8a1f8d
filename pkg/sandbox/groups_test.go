package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupCache_MissingFileIsEmpty(t *testing.T) {
	cache := NewGroupCache(t.TempDir())
	_, ok := cache.Get("batch-1")
	assert.False(t, ok)
}

func TestGroupCache_CorruptFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, GroupCacheFileName), []byte("{torn"), 0o644))

	cache := NewGroupCache(dir)
	_, ok := cache.Get("batch-1")
	assert.False(t, ok)
}

func TestGroupCache_PutPersistsAtomically(t *testing.T) {
	dir := t.TempDir()

	cache := NewGroupCache(dir)
	require.NoError(t, cache.Put("batch-1", "group-42"))

	id, ok := cache.Get("batch-1")
	require.True(t, ok)
	assert.Equal(t, "group-42", id)

	// A fresh load sees the persisted mapping.
	reloaded := NewGroupCache(dir)
	id, ok = reloaded.Get("batch-1")
	require.True(t, ok)
	assert.Equal(t, "group-42", id)

	// The file is a single JSON object, and no temp files are left behind.
	data, err := os.ReadFile(filepath.Join(dir, GroupCacheFileName))
	require.NoError(t, err)
	var onDisk map[string]string
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, map[string]string{"batch-1": "group-42"}, onDisk)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
