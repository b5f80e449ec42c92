package schema

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cache holds snapshots per connection_id with a TTL, plus the optional
// user-selected table subset. Readers dominate; writes happen on refresh,
// subset change and disconnect.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	subsets map[string][]string
	ttl     time.Duration
	logger  *zap.Logger
}

type cacheEntry struct {
	snapshot *Snapshot
	storedAt time.Time
}

// NewCache creates a snapshot cache with the given TTL.
func NewCache(ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		subsets: make(map[string][]string),
		ttl:     ttl,
		logger:  logger.Named("schema-cache"),
	}
}

// Get returns the cached snapshot for a connection id, with the active table
// subset applied, or nil when absent or expired.
func (c *Cache) Get(connectionID string) *Snapshot {
	c.mu.RLock()
	entry, ok := c.entries[connectionID]
	subset := c.subsets[connectionID]
	c.mu.RUnlock()

	if !ok || time.Since(entry.storedAt) > c.ttl {
		return nil
	}
	return entry.snapshot.Restrict(subset)
}

// Put stores a freshly normalized snapshot.
func (c *Cache) Put(connectionID string, s *Snapshot) {
	c.mu.Lock()
	c.entries[connectionID] = &cacheEntry{snapshot: s, storedAt: time.Now()}
	c.mu.Unlock()

	c.logger.Debug("snapshot cached",
		zap.String("connection_id", connectionID),
		zap.Int("tables", len(s.Tables)))
}

// SetSubset restricts the active table set for a connection. All downstream
// consumers see only the subset until it is cleared.
func (c *Cache) SetSubset(connectionID string, tables []string) {
	c.mu.Lock()
	if len(tables) == 0 {
		delete(c.subsets, connectionID)
	} else {
		c.subsets[connectionID] = append([]string(nil), tables...)
	}
	c.mu.Unlock()
}

// Subset returns the active table subset, or nil.
func (c *Cache) Subset(connectionID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subsets[connectionID]
}

// Invalidate drops the snapshot and subset for a connection. Called on
// disconnect.
func (c *Cache) Invalidate(connectionID string) {
	c.mu.Lock()
	delete(c.entries, connectionID)
	delete(c.subsets, connectionID)
	c.mu.Unlock()
}
