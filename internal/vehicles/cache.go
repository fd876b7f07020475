package vehicles

import (
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roadscope/rs-fleet/internal/data"
)

type cacheEntry struct {
	vehicle *data.Vehicle
	addedAt time.Time
}

// readCache keeps recently fetched vehicles out of the database hot
// path. Entries expire after ttl even while still resident in the LRU.
type readCache struct {
	cache *lru.Cache[uuid.UUID, cacheEntry]
	ttl   time.Duration
}

func newReadCache(maxEntries int, ttl time.Duration) *readCache {
	c, _ := lru.New[uuid.UUID, cacheEntry](maxEntries)
	return &readCache{cache: c, ttl: ttl}
}

func (c *readCache) get(id uuid.UUID) (*data.Vehicle, bool) {
	entry, ok := c.cache.Get(id)
	if !ok {
		return nil, false
	}
	if time.Since(entry.addedAt) >= c.ttl {
		c.cache.Remove(id)
		return nil, false
	}
	return entry.vehicle, true
}

func (c *readCache) put(v *data.Vehicle) {
	c.cache.Add(v.ID, cacheEntry{vehicle: v, addedAt: time.Now()})
}

func (c *readCache) invalidate(id uuid.UUID) {
	c.cache.Remove(id)
}
