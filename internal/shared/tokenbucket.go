// Package shared holds concurrency and resilience primitives used by more
// than one gateway component: token buckets, backoff, and circuit breakers.
package shared

import (
	"sync"
	"time"
)

// TokenBucket is a classic token bucket: burst capacity plus a steady refill
// rate. Adapted from the per-user rate limiter in the teacher's REST API
// (internal/httpapi/ratelimit.go) and generalized to key on arbitrary scopes
// (tenant IDs, cache namespaces) rather than just user IDs.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a bucket with the given burst capacity and refill
// rate (tokens/second).
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow attempts to consume one token. It returns whether the request is
// allowed, the remaining token count, and when the next token will become
// available (used for Retry-After).
func (tb *TokenBucket) Allow() (allowed bool, remaining int, nextToken time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, int(tb.tokens), now
	}

	tokensUntilNext := 1.0 - tb.tokens
	secondsUntilNext := tokensUntilNext / tb.refillRate
	return false, 0, now.Add(time.Duration(secondsUntilNext * float64(time.Second)))
}

// KeyedTokenBuckets manages one TokenBucket per scope key (e.g. per tenant),
// with periodic cleanup of idle buckets. Adapted from RateLimiter in
// internal/httpapi/ratelimit.go.
type KeyedTokenBuckets struct {
	mu         sync.RWMutex
	buckets    map[string]*TokenBucket
	capacity   int
	refillRate float64
	idleAfter  time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewKeyedTokenBuckets starts a background cleanup loop; call Stop to end it.
func NewKeyedTokenBuckets(capacity int, refillRate float64, idleAfter time.Duration) *KeyedTokenBuckets {
	k := &KeyedTokenBuckets{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		idleAfter:  idleAfter,
		stopCh:     make(chan struct{}),
	}
	go k.cleanupLoop()
	return k
}

func (k *KeyedTokenBuckets) bucket(key string) *TokenBucket {
	k.mu.RLock()
	b, ok := k.buckets[key]
	k.mu.RUnlock()
	if ok {
		return b
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if b, ok := k.buckets[key]; ok {
		return b
	}
	b = NewTokenBucket(k.capacity, k.refillRate)
	k.buckets[key] = b
	return b
}

// Allow consumes a token for the given scope key.
func (k *KeyedTokenBuckets) Allow(key string) (bool, int, time.Time) {
	return k.bucket(key).Allow()
}

func (k *KeyedTokenBuckets) cleanupLoop() {
	ticker := time.NewTicker(k.idleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.mu.Lock()
			for key, b := range k.buckets {
				b.mu.Lock()
				idle := time.Since(b.lastRefill) > k.idleAfter
				b.mu.Unlock()
				if idle {
					delete(k.buckets, key)
				}
			}
			k.mu.Unlock()
		case <-k.stopCh:
			return
		}
	}
}

// Stop ends the background cleanup loop.
func (k *KeyedTokenBuckets) Stop() {
	k.stopOnce.Do(func() { close(k.stopCh) })
}

// SlidingWindow is a fixed-size sliding window counter, used alongside a
// golang.org/x/time/rate token bucket for FastPurge's dual limiter (spec §4.4.1): N operations per
// window duration, independent of burst smoothing.
type SlidingWindow struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewSlidingWindow creates a window allowing `limit` events per `window`.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, window: window}
}

// Allow reports whether a new event may be admitted now, recording it if so.
func (s *SlidingWindow) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-s.window)
	kept := s.events[:0]
	for _, t := range s.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.events = kept

	if len(s.events) >= s.limit {
		return false
	}
	s.events = append(s.events, now)
	return true
}

// Count returns the number of events currently within the window.
func (s *SlidingWindow) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-s.window)
	n := 0
	for _, t := range s.events {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
