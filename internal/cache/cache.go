// Package cache implements the process-wide read-through machine cache.
//
// Entries are snapshots of store rows keyed by machine id. A put carrying an
// older version than the live entry is rejected, so a slow re-read that
// races a newer write cannot roll the cache back. Invalidate leaves a
// tombstone carrying a version floor for the same reason: until it expires,
// only a snapshot at or above the floor may repopulate the entry. The cache
// is never the system of record.
package cache

import (
	"sync"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/metrics"
	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	"k8s.io/utils/clock"
)

// DefaultTTL is the entry lifetime used by Shared.
const DefaultTTL = 5 * time.Minute

// entry is a cached snapshot, or a tombstone when machine is nil.
type entry struct {
	machine   *models.Machine
	floor     int64
	expiresAt time.Time
}

// minVersion is the lowest version a put may carry to replace e.
func (e entry) minVersion() int64 {
	if e.machine == nil {
		return e.floor
	}
	return e.machine.Version
}

// Cache is safe for concurrent use.
type Cache struct {
	ttl   time.Duration
	clock clock.PassiveClock

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a cache whose entries live for ttl. A nil clock uses the
// real clock.
func New(ttl time.Duration, clk clock.PassiveClock) *Cache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]entry),
	}
}

var (
	sharedOnce sync.Once
	shared     *Cache
	sharedTTL  = DefaultTTL
)

// SetSharedTTL configures the lifetime used when Shared first builds the
// process cache. Calls after the first Shared have no effect.
func SetSharedTTL(ttl time.Duration) {
	if ttl > 0 {
		sharedTTL = ttl
	}
}

// Shared returns the process-wide cache, constructing it on first use. It is
// never reset.
func Shared() *Cache {
	sharedOnce.Do(func() {
		shared = New(sharedTTL, nil)
	})
	return shared
}

// Get returns a copy of the cached machine if present and unexpired. It
// never consults the store.
func (c *Cache) Get(id string) (*models.Machine, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok || e.machine == nil || !c.clock.Now().Before(e.expiresAt) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.machine.Clone(), true
}

// Put stores a snapshot of m under id. It reports false, leaving the cache
// unchanged, when a live entry already holds a newer version or a live
// tombstone's floor is above m's version.
func (c *Cache) Put(id string, m *models.Machine) bool {
	if m == nil {
		return false
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[id]; ok && now.Before(cur.expiresAt) && cur.minVersion() > m.Version {
		metrics.CacheStaleWrites.Inc()
		return false
	}
	c.entries[id] = entry{machine: m.Clone(), expiresAt: now.Add(c.ttl)}
	return true
}

// Invalidate replaces the entry for id with a tombstone, so Get misses and
// reads through to the store. Used when a write may have landed but its
// result could not be observed. floor is the lowest version the write can
// have produced (0 if unknown); the tombstone never sits below the held
// version plus one, or below an earlier tombstone's floor.
func (c *Cache) Invalidate(id string, floor int64) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[id]; ok {
		held := cur.floor
		if cur.machine != nil {
			held = cur.machine.Version + 1
		}
		floor = max(floor, held)
	}
	c.entries[id] = entry{floor: floor, expiresAt: now.Add(c.ttl)}
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not, tombstones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
