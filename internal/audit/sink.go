// Package audit implements tenancy.AuditSink for spec §4.2's audit
// trail: a durable pgx-backed sink with an in-memory fallback for
// single-process or test deployments.
//
// Grounded on internal/db/pg.go for the pgxpool wiring. Each
// tenancy.AuditEvent becomes one append-only audit_event row, written
// with a single pool Exec (no explicit transaction).
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/edgegate/gateway-core/internal/tenancy"
)

// PostgresSink writes audit events to a durable audit_event table. The
// table is expected to already exist (schema managed outside this
// package, as with the rest of this codebase's Postgres usage):
//
//	CREATE TABLE audit_event (
//		id         bigserial PRIMARY KEY,
//		at         timestamptz NOT NULL,
//		session_id text NOT NULL,
//		subject    text NOT NULL,
//		action     text NOT NULL,
//		resource   text NOT NULL,
//		allowed    boolean NOT NULL,
//		reason     text NOT NULL
//	);
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink wraps an already-opened pool (internal/db.Open).
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Record inserts event. Write failures are logged rather than
// propagated: spec §7's propagation policy excludes the audit trail
// from blocking the operation that produced it, so a dispatcher caller
// never sees an audit-sink failure.
func (s *PostgresSink) Record(ctx context.Context, event tenancy.AuditEvent) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_event (at, session_id, subject, action, resource, allowed, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.At, event.SessionID, event.Subject, event.Action, event.Resource, event.Allowed, event.Reason)
	if err != nil {
		log.Error().Err(err).
			Str("session_id", event.SessionID).
			Str("action", event.Action).
			Msg("failed to persist audit event")
	}
}

// MemorySink retains audit events in process memory. Used for tests and
// deployments that have not provisioned Postgres; entries are lost on
// restart.
type MemorySink struct {
	mu     sync.Mutex
	events []tenancy.AuditEvent
	cap    int
}

// NewMemorySink builds a MemorySink retaining at most capacity events,
// dropping the oldest once full. capacity <= 0 means unbounded.
func NewMemorySink(capacity int) *MemorySink {
	return &MemorySink{cap: capacity}
}

func (s *MemorySink) Record(ctx context.Context, event tenancy.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.cap > 0 && len(s.events) > s.cap {
		s.events = s.events[len(s.events)-s.cap:]
	}
}

// Events returns a snapshot of retained events, oldest first.
func (s *MemorySink) Events() []tenancy.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tenancy.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Since returns retained events at or after t, oldest first.
func (s *MemorySink) Since(t time.Time) []tenancy.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tenancy.AuditEvent
	for _, e := range s.events {
		if !e.At.Before(t) {
			out = append(out, e)
		}
	}
	return out
}
