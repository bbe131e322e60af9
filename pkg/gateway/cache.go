package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/wardgate/mcp-gateway-go/pkg/protocol"
)

// CacheConfig controls the HTTP-path response cache. SSE streams and stdio
// calls are never cached.
type CacheConfig struct {
	// Disabled turns the cache off entirely.
	Disabled bool `yaml:"disabled"`
	// TTL is how long an entry stays valid.
	TTL time.Duration `yaml:"ttl" validate:"min=0"`
	// MaxEntries bounds the cache; at the bound, expired entries are
	// evicted first, then arbitrary ones.
	MaxEntries int `yaml:"max_entries" validate:"min=0"`
}

// DefaultCacheTTL matches the gateway API's own response cache window.
const DefaultCacheTTL = 300 * time.Second

type cacheEntry struct {
	value      *protocol.InvokeResult
	insertedAt time.Time
	ttl        time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

// responseCache is a TTL cache keyed by request shape. Concurrent-safe; no
// coordination with the circuit breaker is needed or wanted.
type responseCache struct {
	mu      sync.RWMutex
	entries map[uint64]cacheEntry
	config  CacheConfig
	clock   func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newResponseCache(config CacheConfig) *responseCache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheTTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1024
	}
	return &responseCache{
		entries: make(map[uint64]cacheEntry),
		config:  config,
		clock:   time.Now,
	}
}

// cacheKey hashes the request shape. Parameters are canonicalized through
// encoding/json, which emits map keys in sorted order, so equal maps hash
// equal regardless of construction order.
func cacheKey(action, server, tool string, params map[string]interface{}) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(action)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(server)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(tool)
	_, _ = h.Write([]byte{0})
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err == nil {
			_, _ = h.Write(raw)
		}
	}
	return h.Sum64()
}

func (c *responseCache) get(key uint64) (*protocol.InvokeResult, bool) {
	if c.config.Disabled {
		return nil, false
	}
	now := c.clock()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || entry.expired(now) {
		if ok {
			c.mu.Lock()
			if e, still := c.entries[key]; still && e.expired(now) {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.value, true
}

func (c *responseCache) set(key uint64, value *protocol.InvokeResult) {
	if c.config.Disabled || value == nil {
		return
	}
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.config.MaxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = cacheEntry{value: value, insertedAt: now, ttl: c.config.TTL}
}

// evictLocked clears expired entries; when nothing has expired it drops one
// arbitrary entry to make room.
func (c *responseCache) evictLocked(now time.Time) {
	freed := false
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			freed = true
		}
	}
	if !freed {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
}

// invalidate drops every entry.
func (c *responseCache) invalidate() {
	c.mu.Lock()
	c.entries = make(map[uint64]cacheEntry)
	c.mu.Unlock()
}

func (c *responseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// hitRate is hits / (hits + misses); 0 before any lookups.
func (c *responseCache) hitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
