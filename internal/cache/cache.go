package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/edgegate/gateway-core/internal/config"
	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RefreshOptions configures get-with-refresh (spec §4.3).
type RefreshOptions struct {
	SoftTTL time.Duration // within this, serve without refresh
	HardTTL time.Duration // past this, the entry may not be served at all
}

// FetchFunc produces a fresh value for a coalesced or refreshed fetch.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache is the per-tenant-namespaced smart cache and request coalescer
// (spec §4.3). One Cache instance serves every tenant; isolation comes
// entirely from the mandatory "<tenant-id>:" key prefix.
//
// Grounded on the teacher's internal/mcpserver/client/session_manager.go
// for the per-key-lock coalescing shape, generalized here via
// golang.org/x/sync/singleflight (wired per SPEC_FULL.md's domain stack)
// instead of the teacher's hand-rolled map-of-mutexes, since singleflight
// is the idiomatic Go primitive for exactly this "first caller wins,
// others await" pattern and is already a transitive dependency of the
// corpus.
type Cache struct {
	cfg config.CacheConfig

	mu      sync.RWMutex
	entries map[string]*Entry
	size    int64 // sum of SizeBytes across all entries

	group    singleflight.Group
	adaptive *adaptiveTracker

	closed bool
}

// New builds a Cache from cfg. If cfg.Persistence is set, entries are
// loaded from cfg.PersistencePath immediately.
func New(cfg config.CacheConfig) (*Cache, error) {
	c := &Cache{
		cfg:      cfg,
		entries:  make(map[string]*Entry),
		adaptive: newAdaptiveTracker(),
	}
	if cfg.Persistence && cfg.PersistencePath != "" {
		loaded, err := loadSnapshot(cfg.PersistencePath)
		if err != nil {
			return nil, gwerrors.New(gwerrors.KindInternal, "loading cache snapshot: "+err.Error(), nil)
		}
		c.entries = loaded
		for _, e := range loaded {
			c.size += e.SizeBytes
		}
	}
	return c, nil
}

// Close flushes a persistence snapshot (if enabled) on clean shutdown,
// per spec §4.3.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if !c.cfg.Persistence || c.cfg.PersistencePath == "" {
		return nil
	}
	if err := saveSnapshot(c.cfg.PersistencePath, c.entries); err != nil {
		return gwerrors.New(gwerrors.KindInternal, "saving cache snapshot: "+err.Error(), nil)
	}
	return nil
}

func requireTenantPrefix(key string) error {
	if !strings.Contains(key, ":") || strings.HasPrefix(key, ":") {
		return gwerrors.New(gwerrors.KindValidation, fmt.Sprintf("cache key %q missing tenant prefix", key), nil)
	}
	return nil
}

// Get serves key if present and within hard-TTL (spec §4.3).
func (c *Cache) Get(key string) ([]byte, bool, error) {
	if err := requireTenantPrefix(key); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.pastHard(time.Now()) {
		c.mu.Unlock()
		return nil, false, nil
	}
	e.LastAccess = time.Now()
	e.HitCount++
	c.mu.Unlock()

	c.adaptive.recordHit(key)
	return c.materialize(e)
}

func (c *Cache) materialize(e *Entry) ([]byte, bool, error) {
	if !e.Compressed {
		return e.Value, true, nil
	}
	v, err := decompress(e.Value)
	if err != nil {
		return nil, false, gwerrors.New(gwerrors.KindInternal, "decompressing cache entry: "+err.Error(), nil)
	}
	return v, true, nil
}

// Set stores value under key with the given hard/soft TTLs, applying
// compression if value's size is at or above the configured threshold
// (spec §4.3).
func (c *Cache) Set(key string, value []byte, hardTTL, softTTL time.Duration) error {
	if err := requireTenantPrefix(key); err != nil {
		return err
	}
	now := time.Now()
	if softTTL <= 0 || softTTL > hardTTL {
		softTTL = hardTTL
	}

	stored := value
	compressed := false
	if c.cfg.Compression && len(value) >= c.cfg.CompressionThreshold {
		stored = compress(value)
		compressed = true
	}

	entry := &Entry{
		Key: key, Value: stored, Compressed: compressed,
		HardTTL: now.Add(c.scaledTTL(key, hardTTL)), SoftTTL: now.Add(c.scaledTTL(key, softTTL)),
		LastAccess: now, CreatedAt: now, SizeBytes: int64(len(stored)),
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.size -= old.SizeBytes
	}
	c.entries[key] = entry
	c.size += entry.SizeBytes
	c.evictIfNeededLocked()
	c.mu.Unlock()
	return nil
}

func (c *Cache) scaledTTL(key string, ttl time.Duration) time.Duration {
	if !c.cfg.AdaptiveTTL {
		return ttl
	}
	mult := c.adaptive.multiplier(key)
	scaled := time.Duration(float64(ttl) * mult)
	// Never exceed the 2x hard ceiling spec §4.3 sets, and never go below
	// a tenth of the configured TTL.
	if scaled > ttl*2 {
		scaled = ttl * 2
	}
	if scaled < ttl/10 {
		scaled = ttl / 10
	}
	return scaled
}

// evictIfNeededLocked runs eviction under c.mu; callers must already hold
// the lock. Per spec §4.3, eviction never runs during another key's
// fetch critical section — GetWithRefresh's singleflight group and this
// lock are disjoint, so an in-flight fetch is never blocked by eviction.
func (c *Cache) evictIfNeededLocked() {
	overSize := c.cfg.MaxMemoryMB > 0 && c.size > int64(c.cfg.MaxMemoryMB)*1024*1024
	overCount := c.cfg.MaxSize > 0 && len(c.entries) > c.cfg.MaxSize
	if !overSize && !overCount {
		return
	}

	order := evictionOrder(c.entries, c.cfg.EvictionPolicy)
	for _, key := range order {
		if !overSize && !overCount {
			break
		}
		e := c.entries[key]
		delete(c.entries, key)
		c.size -= e.SizeBytes
		overSize = c.cfg.MaxMemoryMB > 0 && c.size > int64(c.cfg.MaxMemoryMB)*1024*1024
		overCount = c.cfg.MaxSize > 0 && len(c.entries) > c.cfg.MaxSize
	}
}

// GetWithRefresh is spec §4.3's core primitive: serve-within-soft-TTL,
// serve-and-refresh-past-soft-TTL, or coalesce-on-miss.
func (c *Cache) GetWithRefresh(ctx context.Context, key string, opts RefreshOptions, fetch FetchFunc) ([]byte, error) {
	if err := requireTenantPrefix(key); err != nil {
		return nil, err
	}
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !e.pastHard(now) {
		value, _, err := c.materialize(e)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		e.LastAccess = now
		e.HitCount++
		c.mu.Unlock()

		if !e.pastSoft(now) {
			c.adaptive.recordHit(key)
			return value, nil
		}

		// Past soft-TTL but within hard-TTL: serve stale, refresh async.
		c.adaptive.recordHit(key)
		go c.refreshAsync(key, value, opts, fetch)
		return value, nil
	}

	return c.coalescedFetch(ctx, key, opts, fetch, nil)
}

func (c *Cache) refreshAsync(key string, previous []byte, opts RefreshOptions, fetch FetchFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := c.coalescedFetch(ctx, key, opts, fetch, previous); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("async cache refresh failed, keeping stale entry")
	}
}

// coalescedFetch ensures only one goroutine actually invokes fetch for a
// given key at a time (spec §4.3: "only the first concurrent caller
// invokes fetch-fn, all others await the same result"). previous, if
// non-nil, is compared against the refreshed value to feed the adaptive
// TTL "changed" signal.
func (c *Cache) coalescedFetch(ctx context.Context, key string, opts RefreshOptions, fetch FetchFunc, previous []byte) ([]byte, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			// Do NOT cache failures (spec §4.3).
			return nil, err
		}
		if err := c.Set(key, value, opts.HardTTL, opts.SoftTTL); err != nil {
			return nil, err
		}
		if previous != nil {
			c.adaptive.recordRefetch(key, string(value) != string(previous))
		} else {
			c.adaptive.recordRefetch(key, false)
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate deletes every entry whose key matches pattern: an exact key,
// or a prefix when pattern ends in "*" (spec §4.3).
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteMatchingLocked(pattern)
}

// ScanAndDelete is identical in effect to Invalidate; spec §4.3 permits
// (but does not require) a slower, streaming implementation for large
// namespaces. This cache keeps entries in one in-memory map, so there is
// no separate streaming path to implement — both share deleteMatchingLocked.
func (c *Cache) ScanAndDelete(pattern string) int {
	return c.Invalidate(pattern)
}

func (c *Cache) deleteMatchingLocked(pattern string) int {
	n := 0
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		for k, e := range c.entries {
			if strings.HasPrefix(k, prefix) {
				delete(c.entries, k)
				c.size -= e.SizeBytes
				n++
			}
		}
		return n
	}
	if e, ok := c.entries[pattern]; ok {
		delete(c.entries, pattern)
		c.size -= e.SizeBytes
		n++
	}
	return n
}

// InvalidateTenant flushes every entry under tenant's cache prefix, used
// by credential rotation (spec §4.2) and resource-mutation handlers
// (spec §4.3 "Tenancy").
func (c *Cache) InvalidateTenant(tenant string) int {
	return c.Invalidate(tenant + ":*")
}

// Len reports the current entry count, for metrics/tests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
