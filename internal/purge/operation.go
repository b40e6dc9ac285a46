// Package purge implements the FastPurge pipeline (spec §4.4): queue
// admission with dedup/priority/batching, a dual rate limiter, a
// persisted status tracker that polls batches to completion, and a
// non-binding consolidation advisor.
//
// Grounded on the teacher's internal/mcpserver/tools request-handling
// shape for the overall accept-validate-enqueue flow; queue persistence
// (persist.go) has no teacher precedent for atomic file replace, so it
// uses the stdlib os.CreateTemp+os.Rename idiom directly (see DESIGN.md).
package purge

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Kind is a purge object kind, spec §3.
type Kind string

const (
	KindURL    Kind = "url"
	KindCPCode Kind = "cpcode"
	KindTag    Kind = "tag"
)

// Network is the target network for a purge, spec §3.
type Network string

const (
	NetworkStaging    Network = "staging"
	NetworkProduction Network = "production"
)

// Status is an operation's lifecycle state, spec §3 and §4.4.2.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// BatchStatus is one purge batch's terminal/non-terminal state, spec §3
// "Purge batch status".
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchInProgress BatchStatus = "in-progress"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// BatchResponse tracks one batch's progress toward a terminal state,
// spec §3 "Purge batch status".
type BatchResponse struct {
	PurgeID         string
	Status          BatchStatus
	Objects         []string
	EstimatedSeconds int
	SubmittedAt     time.Time
	CompletedAt     time.Time
	Error           string
}

func (b *BatchResponse) terminal() bool {
	return b.Status == BatchCompleted || b.Status == BatchFailed
}

// Operation is spec §3's "Purge operation": one admitted purge request,
// persistent across restarts, whose objects are eventually packed into
// one or more BatchResponses.
type Operation struct {
	OpID           string
	Tenant         string
	Kind           Kind
	Network        Network
	Objects        []string
	Priority       int
	CreatedAt      time.Time
	Status         Status
	Attempts       int
	LastAttempt    time.Time
	LastError      string
	DedupKey       string
	EstimatedSize  int
	BatchResponses []BatchResponse
}

// DedupKey computes spec §3's dedup key: a hash over (kind,
// sorted(objects)).
func DedupKey(kind Kind, objects []string) string {
	sorted := append([]string(nil), objects...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// Priority assigns spec §4.4.1's admission priority: tag=0, cpcode=1,
// url=2 (under 100 objects) or 3 (bulk).
func Priority(kind Kind, objectCount int) int {
	switch kind {
	case KindTag:
		return 0
	case KindCPCode:
		return 1
	case KindURL:
		if objectCount < 100 {
			return 2
		}
		return 3
	default:
		return 3
	}
}

// EstimateSize is a crude serialized-size estimate used for batching and
// admission bookkeeping: each object plus JSON array overhead.
func EstimateSize(objects []string) int {
	size := 2 // "[]"
	for _, o := range objects {
		size += len(o) + 3 // quotes + comma
	}
	return size
}
