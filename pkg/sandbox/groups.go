package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// GroupCacheFileName is the on-disk batch→group mapping inside the
// workspace. It is the sandbox's only piece of persistent mutable state.
const GroupCacheFileName = "adspower_groups.json"

// GroupCache maps batch IDs to controller group IDs, persisted as a single
// JSON object. A missing or corrupt file is treated as empty: the caller
// falls back to the fresh-group path.
type GroupCache struct {
	mu     sync.Mutex
	path   string
	groups map[string]string
}

// NewGroupCache loads the cache from the workspace, tolerating a missing or
// partial file.
func NewGroupCache(workspace string) *GroupCache {
	c := &GroupCache{
		path:   filepath.Join(workspace, GroupCacheFileName),
		groups: make(map[string]string),
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return c
	}
	// Corrupt content resets to empty rather than failing.
	var loaded map[string]string
	if err := json.Unmarshal(data, &loaded); err == nil && loaded != nil {
		c.groups = loaded
	}
	return c
}

// Get returns the cached group ID for a batch.
func (c *GroupCache) Get(batchID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.groups[batchID]
	return id, ok
}

// Put records a batch→group mapping and persists the file atomically
// (temp file + rename), so a crashed writer never leaves a torn file.
func (c *GroupCache) Put(batchID, groupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[batchID] = groupID

	data, err := json.MarshalIndent(c.groups, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal group cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".adspower_groups-*")
	if err != nil {
		return fmt.Errorf("create temp group cache: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write group cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close group cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace group cache: %w", err)
	}
	return nil
}
