package tools

import (
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CacheKey identifies one cached server view: the server plus the canonical
// encoding of the requested tool subset ("full" for whole-server access).
type CacheKey struct {
	ServerID  string
	SubsetKey string
}

func (k CacheKey) String() string {
	return k.ServerID + "\x00" + k.SubsetKey
}

// CacheStat is one row of a cache snapshot, for diagnostics.
type CacheStat struct {
	ServerID  string `json:"server_id"`
	SubsetKey string `json:"subset"`
	Status    Status `json:"status"`
}

// RuntimeCache holds the live connection for each resolved server view, so
// repeated resolutions reuse one underlying subprocess instead of launching
// a new one. Creation is coalesced per key: under concurrent calls the
// create function runs at most once and every waiter shares the result, or
// the same failure.
type RuntimeCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]*Conn
	group   singleflight.Group
}

// NewRuntimeCache creates an empty cache.
func NewRuntimeCache() *RuntimeCache {
	return &RuntimeCache{entries: make(map[CacheKey]*Conn)}
}

// GetOrCreate returns the cached connection for key, invoking create at most
// once across concurrent callers when no live entry exists. Failures are
// propagated to every coalesced waiter and not cached; whether a later
// attempt relaunches anything is the server manager's decision.
func (c *RuntimeCache) GetOrCreate(key CacheKey, create func() (*Conn, error)) (*Conn, error) {
	if conn, ok := c.lookup(key); ok {
		return conn, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if conn, ok := c.lookup(key); ok {
			return conn, nil
		}
		conn, err := create()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = conn
		c.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

// lookup returns a live cached entry. An entry whose server has been shut
// down underneath it is dropped so the next resolution rediscovers.
func (c *RuntimeCache) lookup(key CacheKey) (*Conn, bool) {
	c.mu.RLock()
	conn, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if conn.stopped() {
		c.mu.Lock()
		if c.entries[key] == conn {
			delete(c.entries, key)
			c.group.Forget(key.String())
		}
		c.mu.Unlock()
		return nil, false
	}
	return conn, true
}

// Invalidate removes every entry belonging to serverID and returns the
// evicted connections. New GetOrCreate calls on the affected keys are
// excluded until the removal completes. The caller is responsible for
// shutting down the server handle first.
func (c *RuntimeCache) Invalidate(serverID string) []*Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted []*Conn
	for key, conn := range c.entries {
		if key.ServerID == serverID {
			delete(c.entries, key)
			c.group.Forget(key.String())
			evicted = append(evicted, conn)
		}
	}
	return evicted
}

// Snapshot lists every cache entry with the status of its server.
func (c *RuntimeCache) Snapshot() []CacheStat {
	c.mu.RLock()
	stats := make([]CacheStat, 0, len(c.entries))
	for key, conn := range c.entries {
		stats = append(stats, CacheStat{
			ServerID:  key.ServerID,
			SubsetKey: key.SubsetKey,
			Status:    conn.handle.Status(),
		})
	}
	c.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].ServerID != stats[j].ServerID {
			return stats[i].ServerID < stats[j].ServerID
		}
		return stats[i].SubsetKey < stats[j].SubsetKey
	})
	return stats
}
