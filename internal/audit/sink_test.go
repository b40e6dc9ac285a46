package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edgegate/gateway-core/internal/db"
	"github.com/edgegate/gateway-core/internal/tenancy"
)

func TestMemorySinkRetainsEventsInOrder(t *testing.T) {
	sink := NewMemorySink(0)
	ctx := context.Background()

	sink.Record(ctx, tenancy.AuditEvent{At: time.Unix(1, 0), Action: "switch", SessionID: "s1"})
	sink.Record(ctx, tenancy.AuditEvent{At: time.Unix(2, 0), Action: "rotate", SessionID: "s1"})

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != "switch" || events[1].Action != "rotate" {
		t.Errorf("expected order switch,rotate, got %s,%s", events[0].Action, events[1].Action)
	}
}

func TestMemorySinkDropsOldestWhenOverCapacity(t *testing.T) {
	sink := NewMemorySink(2)
	ctx := context.Background()

	sink.Record(ctx, tenancy.AuditEvent{At: time.Unix(1, 0), Action: "a"})
	sink.Record(ctx, tenancy.AuditEvent{At: time.Unix(2, 0), Action: "b"})
	sink.Record(ctx, tenancy.AuditEvent{At: time.Unix(3, 0), Action: "c"})

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events after eviction, got %d", len(events))
	}
	if events[0].Action != "b" || events[1].Action != "c" {
		t.Errorf("expected oldest dropped, got %s,%s", events[0].Action, events[1].Action)
	}
}

func TestMemorySinkSinceFiltersByTime(t *testing.T) {
	sink := NewMemorySink(0)
	ctx := context.Background()

	sink.Record(ctx, tenancy.AuditEvent{At: time.Unix(1, 0), Action: "old"})
	sink.Record(ctx, tenancy.AuditEvent{At: time.Unix(10, 0), Action: "new"})

	events := sink.Since(time.Unix(5, 0))
	if len(events) != 1 || events[0].Action != "new" {
		t.Fatalf("expected only the newer event, got %+v", events)
	}
}

func getTestAuditDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if _, err := pool.Exec(context.Background(), "DELETE FROM audit_event"); err != nil {
		t.Fatalf("failed to clean audit_event table: %v", err)
	}

	return pool
}

func TestPostgresSinkPersistsEvent_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	pool := getTestAuditDB(t)
	defer pool.Close()

	sink := NewPostgresSink(pool)
	ctx := context.Background()

	sink.Record(ctx, tenancy.AuditEvent{
		At: time.Now(), SessionID: "sess-1", Subject: "user-1",
		Action: "switch-context", Resource: "acme", Allowed: true, Reason: "ok",
	})

	var count int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM audit_event WHERE session_id = $1", "sess-1").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 persisted row, got %d", count)
	}
}
