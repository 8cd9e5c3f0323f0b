// Package cache implements the read-through cache (component C8): an
// LRU for small decoded query results and a byte-cache for larger
// paginated enumeration results, invalidated wholesale at every
// block-commit boundary. This mirrors the teacher's per-field fastcache
// split (accountCache/storageCache/codeCache/codeSizeCache in
// core/state/db_state_writer.go) adapted to the query layer's result
// shapes instead of account/storage trie data.
package cache

import (
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"
)

// Cache holds decoded single-entity lookups in an LRU and serialized
// multi-row enumeration pages in a byte-cache.
type Cache struct {
	mu      sync.RWMutex
	entries *lru.Cache
	pages   *fastcache.Cache
}

// New builds a Cache with room for entrySize decoded entries and
// pageCacheBytes worth of serialized enumeration pages.
func New(entrySize int, pageCacheBytes int) (*Cache, error) {
	entries, err := lru.New(entrySize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries: entries,
		pages:   fastcache.New(pageCacheBytes),
	}, nil
}

// GetEntry returns a cached decoded value for key, if present.
func (c *Cache) GetEntry(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Get(key)
}

// SetEntry caches a decoded value for key.
func (c *Cache) SetEntry(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, value)
}

// GetPage returns a cached serialized enumeration page for key, if
// present.
func (c *Cache) GetPage(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buf, ok := c.pages.HasGet(nil, []byte(key))
	return buf, ok
}

// SetPage caches a serialized enumeration page for key.
func (c *Cache) SetPage(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages.Set([]byte(key), value)
}

// Invalidate clears both caches wholesale. Called exactly once per
// CommitBlock: the unexpired predicate is a function of current_block,
// so almost any write can change any cached query's outcome.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.pages.Reset()
}
