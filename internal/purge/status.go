package purge

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PollFunc checks one batch's current status against the back end,
// returning the updated BatchStatus (and an error string if failed).
// Supplied by the caller so this package stays decoupled from
// internal/signing's concrete transport.
type PollFunc func(ctx context.Context, purgeID string) (BatchStatus, string, error)

// Progress is the computed per-operation progress snapshot, spec
// §4.4.2 "Progress computation".
type Progress struct {
	Percent          int
	ProcessedObjects int
	RemainingSeconds int
}

// Tracker polls each operation's batches to a terminal state and
// computes aggregate operation status, spec §4.4.2.
type Tracker struct {
	poll PollFunc

	mu          sync.Mutex
	initialEstimate map[string]int // opID -> seconds, for remaining_seconds
	onTerminal  func(op *Operation)
}

// NewTracker builds a Tracker. onTerminal, if non-nil, is invoked
// (spec §4.4.2: "fire progress callbacks") once an operation reaches a
// terminal status.
func NewTracker(poll PollFunc, onTerminal func(op *Operation)) *Tracker {
	return &Tracker{
		poll:            poll,
		initialEstimate: make(map[string]int),
		onTerminal:      onTerminal,
	}
}

// Track begins polling every batch of op until each reaches a terminal
// state or its individual polling budget expires, per spec §4.4.2's
// cadence: 1s for the first 10s elapsed, then 5s, capped at
// max(estimated_seconds*2+30s, 60s) per batch.
func (t *Tracker) Track(ctx context.Context, op *Operation) {
	t.mu.Lock()
	total := 0
	for _, b := range op.BatchResponses {
		total += b.EstimatedSeconds
	}
	t.initialEstimate[op.OpID] = total
	t.mu.Unlock()

	op.Status = StatusInProgress

	var wg sync.WaitGroup
	for i := range op.BatchResponses {
		wg.Add(1)
		go func(b *BatchResponse) {
			defer wg.Done()
			t.pollBatch(ctx, b)
		}(&op.BatchResponses[i])
	}
	wg.Wait()

	t.finalize(op)
}

func (t *Tracker) pollBatch(ctx context.Context, b *BatchResponse) {
	budget := time.Duration(maxInt(b.EstimatedSeconds*2+30, 60)) * time.Second
	deadline := time.Now().Add(budget)
	start := time.Now()

	for {
		if b.terminal() {
			return
		}
		if time.Now().After(deadline) {
			b.Status = BatchFailed
			b.Error = "polling budget exceeded"
			b.CompletedAt = time.Now()
			return
		}

		status, errMsg, err := t.poll(ctx, b.PurgeID)
		if err != nil {
			log.Warn().Err(err).Str("purge_id", b.PurgeID).Msg("polling purge batch status failed, retrying")
		} else {
			b.Status = status
			if status == BatchFailed {
				b.Error = errMsg
			}
			if b.terminal() {
				b.CompletedAt = time.Now()
				return
			}
		}

		interval := 5 * time.Second
		if time.Since(start) < 10*time.Second {
			interval = time.Second
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) finalize(op *Operation) {
	completed, failed := 0, 0
	for _, b := range op.BatchResponses {
		switch b.Status {
		case BatchCompleted:
			completed++
		case BatchFailed:
			failed++
		}
	}

	switch {
	case completed == len(op.BatchResponses) && len(op.BatchResponses) > 0:
		op.Status = StatusCompleted
	case completed > 0 && failed > 0:
		op.Status = StatusPartial
	default:
		op.Status = StatusFailed
	}

	if t.onTerminal != nil {
		t.onTerminal(op)
	}
}

// ComputeProgress derives spec §4.4.2's progress fields from op's
// current batch states.
func ComputeProgress(op *Operation, elapsed time.Duration) Progress {
	total := len(op.BatchResponses)
	completed := 0
	processed := 0
	initialEstimate := 0
	for _, b := range op.BatchResponses {
		initialEstimate += b.EstimatedSeconds
		if b.Status == BatchCompleted {
			completed++
			processed += len(b.Objects)
		}
	}

	percent := 0
	if total > 0 {
		percent = int(math.Round(100.0 * float64(completed) / float64(total)))
	}
	remaining := initialEstimate - int(elapsed.Seconds())
	if remaining < 0 {
		remaining = 0
	}

	return Progress{Percent: percent, ProcessedObjects: processed, RemainingSeconds: remaining}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// PurgeRetentionAge is spec §4.4.2's retention window: terminal
// operations older than this are purged from memory and disk.
const PurgeRetentionAge = 24 * time.Hour

// SweepRetention removes terminal operations older than PurgeRetentionAge
// from q's in-memory queue and returns the tenants whose on-disk
// snapshot should be rewritten, per spec §4.4.2 "Retention" (run
// hourly by the caller).
func SweepRetention(q *Queue, now time.Time) []string {
	touched := make([]string, 0)
	for _, tenant := range q.Tenants() {
		ops := q.Snapshot(tenant)
		kept := ops[:0]
		changed := false
		for _, op := range ops {
			if isTerminal(op.Status) && now.Sub(op.LastAttempt) > PurgeRetentionAge {
				changed = true
				continue
			}
			kept = append(kept, op)
		}
		if changed {
			q.LoadOperations(tenant, kept)
			touched = append(touched, tenant)
		}
	}
	return touched
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}
