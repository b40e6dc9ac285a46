package shared

import (
	"testing"
	"time"
)

func TestTokenBucketBurstThenRefuse(t *testing.T) {
	tb := NewTokenBucket(3, 1.0) // 3 burst, 1/s refill

	for i := 0; i < 3; i++ {
		allowed, _, _ := tb.Allow()
		if !allowed {
			t.Fatalf("expected burst token %d to be allowed", i)
		}
	}

	allowed, remaining, next := tb.Allow()
	if allowed {
		t.Fatalf("expected 4th immediate request to be refused")
	}
	if remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", remaining)
	}
	if !next.After(time.Now()) {
		t.Fatalf("expected next token time in the future")
	}
}

func TestSlidingWindowLimit(t *testing.T) {
	w := NewSlidingWindow(2, 50*time.Millisecond)

	if !w.Allow() || !w.Allow() {
		t.Fatalf("expected first two events to be admitted")
	}
	if w.Allow() {
		t.Fatalf("expected third event within window to be refused")
	}

	time.Sleep(60 * time.Millisecond)
	if !w.Allow() {
		t.Fatalf("expected event after window expiry to be admitted")
	}
}

func TestKeyedTokenBucketsIsolatesByKey(t *testing.T) {
	k := NewKeyedTokenBuckets(1, 1.0, time.Hour)
	defer k.Stop()

	allowedA, _, _ := k.Allow("tenantA")
	allowedB, _, _ := k.Allow("tenantB")
	if !allowedA || !allowedB {
		t.Fatalf("expected independent buckets per key to each allow one request")
	}

	allowedA2, _, _ := k.Allow("tenantA")
	if allowedA2 {
		t.Fatalf("expected tenantA's second immediate request to be refused")
	}
}
