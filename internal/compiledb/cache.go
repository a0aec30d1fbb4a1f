package compiledb

import (
	"sync"

	"cxxtract/internal/logging"
)

// Cache is the process-wide compile-db cache. Entries are keyed by
// (workspaceId, repoId, normalized catalog path) and are immutable once
// inserted; a manifest refresh invalidates the workspace's slice of the
// cache wholesale.
type Cache struct {
	mu      sync.Mutex
	indexes map[cacheKey]*Index
}

type cacheKey struct {
	workspaceID string
	repoID      string
	ccPath      string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{indexes: make(map[cacheKey]*Index)}
}

// Load returns the cached index for the triple, loading the catalog on a
// miss. Concurrent loads of the same key serialize on the cache mutex; the
// catalog load itself is cheap enough not to warrant per-key locking.
func (c *Cache) Load(workspaceID, repoID, ccPath string) (*Index, error) {
	key := cacheKey{workspaceID, repoID, foldPath(ccPath)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.indexes[key]; ok {
		return idx, nil
	}

	idx, err := Load(ccPath)
	if err != nil {
		return nil, err
	}
	c.indexes[key] = idx
	return idx, nil
}

// Invalidate drops every cached index belonging to a workspace. An empty
// workspace id drops everything.
func (c *Cache) Invalidate(workspaceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key := range c.indexes {
		if workspaceID == "" || key.workspaceID == workspaceID {
			delete(c.indexes, key)
			dropped++
		}
	}
	if dropped > 0 {
		logging.Get(logging.CategoryCompileDB).Info("invalidated %d cached indexes for workspace %q", dropped, workspaceID)
	}
	return dropped
}

// Size is the number of cached indexes, for health reporting.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.indexes)
}
