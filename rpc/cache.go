package rpc

import (
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	fetchedAt time.Time
	payload   []byte
}

// Cache maps a request key to the last successful response body. Entries are
// never evicted; a stale entry is ignored until a fetch replaces it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// CacheKey combines a resolved URL with its query. url.Values.Encode sorts
// by key, so equal queries always produce the same key.
func CacheKey(rawURL string, query url.Values) string {
	if len(query) == 0 {
		return rawURL
	}
	return rawURL + "?" + query.Encode()
}

// Get returns the payload for key if it is at most ttl old.
func (c *Cache) Get(key string, ttl time.Duration) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.fetchedAt) > ttl {
		return nil, false
	}
	return entry.payload, true
}

// GetOrFetch serves key from the cache while it is fresh and calls fetch
// otherwise. Failed fetches are not stored and leave any older entry intact.
// Concurrent misses for the same key share one fetch.
func (c *Cache) GetOrFetch(key string, ttl time.Duration, fetch func() ([]byte, error)) ([]byte, error) {
	if payload, ok := c.Get(key, ttl); ok {
		return payload, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if payload, ok := c.Get(key, ttl); ok {
			return payload, nil
		}

		payload, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = cacheEntry{fetchedAt: c.now(), payload: payload}
		c.mu.Unlock()

		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// FetchedAt returns when key was last stored.
func (c *Cache) FetchedAt(key string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	return entry.fetchedAt, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
