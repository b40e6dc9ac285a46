package cache

import (
	"sync"
	"time"
)

// adaptiveWindow is the rolling window over which hit rate is measured,
// per spec §4.3's "over a rolling window" requirement.
const adaptiveWindow = 10 * time.Minute

// hitRateThreshold is the spec's "configured threshold" for growing a
// TTL; the shrink cutoff (changed-to-miss ratio above 0.5) is inline in
// multiplier. Both are fixed here rather than plumbed through config since
// spec.md doesn't name them as externally tunable.
const (
	hitRateThreshold = 0.7
	growFactor       = 2.0
	shrinkFactor     = 0.5
)

// keyStats tracks one key's recent hit/miss-then-changed history for
// adaptive TTL, spec §4.3.
type keyStats struct {
	hits      int
	misses    int
	changes   int // post-miss refetches that returned a different value
	windowEnd time.Time
}

// adaptiveTracker computes a TTL multiplier per key from recent access
// patterns. Grounded on the teacher's per-key keyed-map-with-mutex shape
// (internal/httpapi/ratelimit.go's RateLimiter, also the ancestor of
// internal/shared.KeyedTokenBuckets) generalized from a request counter
// to a hit/miss/change counter.
type adaptiveTracker struct {
	mu    sync.Mutex
	stats map[string]*keyStats
}

func newAdaptiveTracker() *adaptiveTracker {
	return &adaptiveTracker{stats: make(map[string]*keyStats)}
}

func (t *adaptiveTracker) statsFor(key string, now time.Time) *keyStats {
	s, ok := t.stats[key]
	if !ok || now.After(s.windowEnd) {
		s = &keyStats{windowEnd: now.Add(adaptiveWindow)}
		t.stats[key] = s
	}
	return s
}

func (t *adaptiveTracker) recordHit(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statsFor(key, time.Now()).hits++
}

// recordRefetch records a miss (or soft-TTL refresh) and whether the
// refetched value differed from what was cached before.
func (t *adaptiveTracker) recordRefetch(key string, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.statsFor(key, time.Now())
	s.misses++
	if changed {
		s.changes++
	}
}

// multiplier returns the bounded TTL multiplier for key: up to growFactor
// for high, stable hit rates, down to shrinkFactor for keys that change
// frequently after a miss, 1.0 otherwise.
func (t *adaptiveTracker) multiplier(key string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[key]
	if !ok {
		return 1.0
	}
	total := s.hits + s.misses
	if total == 0 {
		return 1.0
	}
	hitRate := float64(s.hits) / float64(total)

	if s.misses > 0 && float64(s.changes)/float64(s.misses) > 0.5 {
		return shrinkFactor
	}
	if hitRate > hitRateThreshold {
		return growFactor
	}
	return 1.0
}
