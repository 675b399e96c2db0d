package client

import (
	"sync"
	"time"
)

// Snapshot is one cached order list with per-status counts for badge
// rendering.
type Snapshot struct {
	Timestamp time.Time
	Orders    []OrderSummary
	Counts    map[string]int
}

// ListCache holds named list snapshots (one per screen: picker queue,
// courier history, ...) with a TTL. Mutations invalidate; expired snapshots
// are dropped on read.
type ListCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	snapshots map[string]Snapshot
}

// DefaultListCacheTTL bounds how long a list snapshot may serve screens
// before a refetch is forced.
const DefaultListCacheTTL = 7 * time.Minute

// NewListCache creates a cache with the given TTL. A non-positive TTL
// selects the default.
func NewListCache(ttl time.Duration) *ListCache {
	if ttl <= 0 {
		ttl = DefaultListCacheTTL
	}
	return &ListCache{
		ttl:       ttl,
		now:       time.Now,
		snapshots: make(map[string]Snapshot),
	}
}

// Get returns a fresh snapshot by name. Stale snapshots are removed and
// reported as absent.
func (c *ListCache) Get(name string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[name]
	if !ok {
		return Snapshot{}, false
	}
	if c.now().Sub(s.Timestamp) > c.ttl {
		delete(c.snapshots, name)
		return Snapshot{}, false
	}
	return s, true
}

// Set stores a snapshot under a name, computing per-status counts.
func (c *ListCache) Set(name string, orders []OrderSummary) Snapshot {
	counts := make(map[string]int)
	for _, o := range orders {
		counts[o.Status]++
	}
	s := Snapshot{
		Timestamp: c.now(),
		Orders:    orders,
		Counts:    counts,
	}
	c.mu.Lock()
	c.snapshots[name] = s
	c.mu.Unlock()
	return s
}

// Invalidate drops one named snapshot.
func (c *ListCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, name)
}

// InvalidateAll drops every snapshot. Called after any local mutation: a
// take or completion changes several screens at once.
func (c *ListCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = make(map[string]Snapshot)
}
