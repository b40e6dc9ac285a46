package gwerrors

import (
	"errors"
	"testing"
)

func TestErrorIsKind(t *testing.T) {
	e1 := New(KindConflict, "duplicate purge", nil)
	e2 := New(KindConflict, "different message", map[string]any{"x": 1})

	if !errors.Is(e1, e2) {
		t.Fatalf("expected errors of the same kind to match via errors.Is")
	}

	e3 := New(KindNotFound, "missing tenant", nil)
	if errors.Is(e1, e3) {
		t.Fatalf("expected different kinds not to match")
	}
}

func TestRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindTransient:    true,
		KindRateLimited:  true,
		KindUpstream:     false,
		KindValidation:   false,
		KindUnauthorized: false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("Kind(%s).Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestMarshalDataOmitsEmpty(t *testing.T) {
	e := New(KindInternal, "boom", nil)
	if e.MarshalData() != nil {
		t.Fatalf("expected nil data for error with no Data/Problem")
	}

	e2 := New(KindRateLimited, "slow down", map[string]any{"retryAfter": 5})
	if e2.MarshalData() == nil {
		t.Fatalf("expected non-nil data")
	}
}

func TestShortCodeStable(t *testing.T) {
	if KindConflict.ShortCode() != "conflict" {
		t.Fatalf("short code drifted: %s", KindConflict.ShortCode())
	}
}
