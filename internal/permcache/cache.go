// Package permcache keeps resolved channel masks in memory for a short TTL.
//
// Entries are keyed by (server, channel, user). Any change to a server's
// roles, member roles or channel overwrites must call InvalidateServer;
// invalidation moves the server to a fresh generation so stale entries are
// never read again and age out of the cache on their own. Generations are
// drawn from one counter and never reused, so a server whose last bump is
// older than the TTL can be forgotten: nothing cached before that bump is
// still alive.
package permcache

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/MrEthical07/authcore/permission"
)

// Config sizes the cache. Zero values take the defaults below.
type Config struct {
	TTL         time.Duration
	NumCounters int64
	MaxCost     int64
}

const (
	defaultTTL         = 30 * time.Second
	defaultNumCounters = 1e5
	defaultMaxCost     = 1 << 20
)

// Cache is safe for concurrent use. A nil *Cache is a valid always-miss cache.
type Cache struct {
	ttl   time.Duration
	masks *ristretto.Cache[string, permission.Mask]

	mu        sync.RWMutex
	gen       map[string]generation
	next      uint64
	lastSweep time.Time
}

type generation struct {
	n      uint64
	bumped time.Time
}

// New builds a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaultNumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = defaultMaxCost
	}

	masks, err := ristretto.NewCache(&ristretto.Config[string, permission.Mask]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize permission cache: %w", err)
	}

	return &Cache{
		ttl:   cfg.TTL,
		masks: masks,
		gen:       make(map[string]generation),
		lastSweep: time.Now(),
	}, nil
}

func (c *Cache) key(serverID, channelID, userID string) string {
	c.mu.RLock()
	g := c.gen[serverID].n
	c.mu.RUnlock()
	return serverID + "#" + strconv.FormatUint(g, 10) + ":" + channelID + ":" + userID
}

// Get returns the cached mask for the member in the channel.
func (c *Cache) Get(serverID, channelID, userID string) (permission.Mask, bool) {
	if c == nil {
		return permission.Mask{}, false
	}
	return c.masks.Get(c.key(serverID, channelID, userID))
}

// Set stores a resolved mask. Ristretto admission is asynchronous; a Set
// may be dropped under contention.
func (c *Cache) Set(serverID, channelID, userID string, m permission.Mask) {
	if c == nil {
		return
	}
	c.masks.SetWithTTL(c.key(serverID, channelID, userID), m, 1, c.ttl)
}

// InvalidateServer drops every cached mask for serverID.
func (c *Cache) InvalidateServer(serverID string) {
	if c == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.gen[serverID] = generation{n: c.next, bumped: now}
	if now.Sub(c.lastSweep) >= c.ttl {
		c.sweepLocked(now)
	}
}

func (c *Cache) sweepLocked(now time.Time) {
	for id, g := range c.gen {
		if now.Sub(g.bumped) >= c.ttl {
			delete(c.gen, id)
		}
	}
	c.lastSweep = now
}

// trackedServers reports how many servers hold a generation.
func (c *Cache) trackedServers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.gen)
}

// Wait blocks until pending Sets are applied.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.masks.Wait()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.masks.Clear()
}

// Close releases the cache goroutines.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.masks.Close()
}
