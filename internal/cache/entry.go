// Package cache implements the per-tenant smart cache and request
// coalescer (spec §4.3): hard+soft TTLs, background refresh,
// single-flight coalescing, size-bounded eviction, optional streaming
// compression, and optional disk persistence.
//
// Grounded on the teacher's internal/mcpserver/client/session_manager.go
// for the "per-key lock, first caller populates, others await" shape
// (there applied to session acquisition, here generalized to fetch
// coalescing), and on klauspost/compress/zstd (wired elsewhere in the
// example pack) for the streaming compression spec §4.3 calls for.
package cache

import "time"

// Entry is one cached value, spec §3's "cache entry".
type Entry struct {
	Key         string
	Value       []byte
	Compressed  bool
	HardTTL     time.Time
	SoftTTL     time.Time
	LastAccess  time.Time
	CreatedAt   time.Time
	HitCount    int64
	SizeBytes   int64
}

func (e *Entry) pastHard(now time.Time) bool {
	return now.After(e.HardTTL)
}

func (e *Entry) pastSoft(now time.Time) bool {
	return now.After(e.SoftTTL)
}
