package purge

import (
	"context"
	"testing"
	"time"
)

func TestTrackerMarksCompletedWhenAllBatchesDone(t *testing.T) {
	op := &Operation{
		OpID: "op1",
		BatchResponses: []BatchResponse{
			{PurgeID: "p1", Status: BatchPending, EstimatedSeconds: 1},
			{PurgeID: "p2", Status: BatchPending, EstimatedSeconds: 1},
		},
	}

	poll := func(ctx context.Context, purgeID string) (BatchStatus, string, error) {
		return BatchCompleted, "", nil
	}

	var finalized *Operation
	tr := NewTracker(poll, func(o *Operation) { finalized = o })
	tr.Track(context.Background(), op)

	if op.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", op.Status)
	}
	if finalized != op {
		t.Fatalf("expected onTerminal callback to fire with op")
	}
}

func TestTrackerMarksPartialWhenMixed(t *testing.T) {
	op := &Operation{
		OpID: "op1",
		BatchResponses: []BatchResponse{
			{PurgeID: "p1", Status: BatchPending, EstimatedSeconds: 1},
			{PurgeID: "p2", Status: BatchPending, EstimatedSeconds: 1},
		},
	}

	poll := func(ctx context.Context, purgeID string) (BatchStatus, string, error) {
		if purgeID == "p1" {
			return BatchCompleted, "", nil
		}
		return BatchFailed, "upstream error", nil
	}

	tr := NewTracker(poll, nil)
	tr.Track(context.Background(), op)

	if op.Status != StatusPartial {
		t.Fatalf("expected partial, got %s", op.Status)
	}
}

func TestTrackerMarksFailedWhenNoneCompleted(t *testing.T) {
	op := &Operation{
		OpID: "op1",
		BatchResponses: []BatchResponse{
			{PurgeID: "p1", Status: BatchPending, EstimatedSeconds: 1},
		},
	}
	poll := func(ctx context.Context, purgeID string) (BatchStatus, string, error) {
		return BatchFailed, "nope", nil
	}
	tr := NewTracker(poll, nil)
	tr.Track(context.Background(), op)

	if op.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", op.Status)
	}
}

func TestComputeProgress(t *testing.T) {
	op := &Operation{
		BatchResponses: []BatchResponse{
			{Status: BatchCompleted, Objects: []string{"a", "b"}, EstimatedSeconds: 10},
			{Status: BatchPending, Objects: []string{"c"}, EstimatedSeconds: 10},
		},
	}
	p := ComputeProgress(op, 5*time.Second)
	if p.Percent != 50 {
		t.Fatalf("expected 50%%, got %d", p.Percent)
	}
	if p.ProcessedObjects != 2 {
		t.Fatalf("expected 2 processed objects, got %d", p.ProcessedObjects)
	}
	if p.RemainingSeconds != 15 {
		t.Fatalf("expected 15 remaining seconds (20 estimate - 5 elapsed), got %d", p.RemainingSeconds)
	}
}

func TestSweepRetentionRemovesOldTerminalOperations(t *testing.T) {
	q := NewQueue()
	old, _ := q.Admit("tenant1", KindTag, NetworkProduction, []string{"tag1"})
	old.Status = StatusCompleted
	old.LastAttempt = time.Now().Add(-48 * time.Hour)

	fresh, _ := q.Admit("tenant1", KindTag, NetworkProduction, []string{"tag2"})
	fresh.Status = StatusCompleted
	fresh.LastAttempt = time.Now()

	touched := SweepRetention(q, time.Now())
	if len(touched) != 1 || touched[0] != "tenant1" {
		t.Fatalf("expected tenant1 touched, got %v", touched)
	}

	remaining := q.Snapshot("tenant1")
	if len(remaining) != 1 || remaining[0].OpID != fresh.OpID {
		t.Fatalf("expected only the fresh operation to survive, got %+v", remaining)
	}
}
