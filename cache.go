package arrivals

import (
	"sync"
	"time"

	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/model"
)

const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	storedAt time.Time
	records  []model.ArrivalRecord
}

// Short lived cache of reconciled arrivals per (stop, route).
//
// Entries expire lazily and are never evicted otherwise; the key
// space is bounded by the network. Concurrent misses on the same key
// each compute, and the last one to finish wins.
//
// Returned slices are shared between callers and must not be
// modified.
type ResponseCache struct {
	TTL     time.Duration
	TimeNow func() time.Time
	Metrics *metrics.Collector

	mutex   sync.RWMutex
	entries map[string]cacheEntry
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		TTL:     ttl,
		TimeNow: time.Now,
		entries: map[string]cacheEntry{},
	}
}

func cacheKey(stopID string, routeID string) string {
	return stopID + "|" + routeID
}

// Returns the cached arrivals for (stopID, routeID) if fresh.
// Otherwise calls compute and caches its result. Failures are not
// cached.
func (c *ResponseCache) GetOrCompute(
	stopID string,
	routeID string,
	compute func() ([]model.ArrivalRecord, error),
) ([]model.ArrivalRecord, error) {
	key := cacheKey(stopID, routeID)

	c.mutex.RLock()
	entry, found := c.entries[key]
	c.mutex.RUnlock()

	if found && c.now().Sub(entry.storedAt) < c.TTL {
		c.Metrics.Cache(true)
		return entry.records, nil
	}
	c.Metrics.Cache(false)

	records, err := compute()
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	if c.entries == nil {
		c.entries = map[string]cacheEntry{}
	}
	c.entries[key] = cacheEntry{
		storedAt: c.now(),
		records:  records,
	}
	c.mutex.Unlock()

	return records, nil
}

// Drops all entries.
func (c *ResponseCache) Clear() {
	c.mutex.Lock()
	c.entries = map[string]cacheEntry{}
	c.mutex.Unlock()
}

func (c *ResponseCache) now() time.Time {
	if c.TimeNow != nil {
		return c.TimeNow()
	}
	return time.Now()
}
