package purge

import (
	"errors"
	"testing"
)

func TestAdmitAssignsPriority(t *testing.T) {
	q := NewQueue()
	tagOp, err := q.Admit("tenant1", KindTag, NetworkProduction, []string{"tag1"})
	if err != nil {
		t.Fatalf("Admit tag: %v", err)
	}
	if tagOp.Priority != 0 {
		t.Fatalf("expected tag priority 0, got %d", tagOp.Priority)
	}

	cpOp, err := q.Admit("tenant1", KindCPCode, NetworkProduction, []string{"12345"})
	if err != nil {
		t.Fatalf("Admit cpcode: %v", err)
	}
	if cpOp.Priority != 1 {
		t.Fatalf("expected cpcode priority 1, got %d", cpOp.Priority)
	}

	urlOp, err := q.Admit("tenant1", KindURL, NetworkProduction, []string{"https://example.com/a"})
	if err != nil {
		t.Fatalf("Admit url: %v", err)
	}
	if urlOp.Priority != 2 {
		t.Fatalf("expected small-url priority 2, got %d", urlOp.Priority)
	}

	bulkObjects := make([]string, 150)
	for i := range bulkObjects {
		bulkObjects[i] = "https://example.com/" + string(rune('a'+i%26))
	}
	bulkOp, err := q.Admit("tenant1", KindURL, NetworkProduction, bulkObjects)
	if err != nil {
		t.Fatalf("Admit bulk url: %v", err)
	}
	if bulkOp.Priority != 3 {
		t.Fatalf("expected bulk-url priority 3, got %d", bulkOp.Priority)
	}
}

func TestAdmitRejectsDuplicateWithinWindow(t *testing.T) {
	q := NewQueue()
	objects := []string{"https://example.com/a", "https://example.com/b"}

	if _, err := q.Admit("tenant1", KindURL, NetworkProduction, objects); err != nil {
		t.Fatalf("first Admit: %v", err)
	}

	// Same kind+objects (order-independent, since DedupKey sorts) within
	// the 5-minute window must be rejected.
	reordered := []string{"https://example.com/b", "https://example.com/a"}
	_, err := q.Admit("tenant1", KindURL, NetworkProduction, reordered)
	if err == nil {
		t.Fatalf("expected duplicate rejection")
	}
}

func TestAdmitDedupIsPerTenant(t *testing.T) {
	q := NewQueue()
	objects := []string{"https://example.com/a"}
	if _, err := q.Admit("tenant1", KindURL, NetworkProduction, objects); err != nil {
		t.Fatalf("tenant1 Admit: %v", err)
	}
	if _, err := q.Admit("tenant2", KindURL, NetworkProduction, objects); err != nil {
		t.Fatalf("expected tenant2 to admit independently of tenant1's dedup window: %v", err)
	}
}

func TestPendingOrderedByPriority(t *testing.T) {
	q := NewQueue()
	q.Admit("tenant1", KindURL, NetworkProduction, []string{"https://example.com/a"})
	q.Admit("tenant1", KindTag, NetworkProduction, []string{"tag1"})
	q.Admit("tenant1", KindCPCode, NetworkProduction, []string{"123"})

	pending := q.Pending("tenant1")
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending operations, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].Priority < pending[i-1].Priority {
			t.Fatalf("expected ascending priority order, got %+v", pending)
		}
	}
}

func TestBatchRespectsObjectCountLimit(t *testing.T) {
	objects := make([]string, 5001)
	for i := range objects {
		objects[i] = "x"
	}
	batches := Batch(objects)
	if len(batches) < 2 {
		t.Fatalf("expected at least 2 batches for 5001 objects, got %d", len(batches))
	}
	for _, b := range batches {
		if len(b) > maxBatchObjects {
			t.Fatalf("expected batch object count <= %d, got %d", maxBatchObjects, len(b))
		}
	}
}

func TestBatchRespectsByteSizeLimit(t *testing.T) {
	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'x'
	}
	objects := make([]string, 100)
	for i := range objects {
		objects[i] = string(big)
	}
	batches := Batch(objects)
	if len(batches) < 2 {
		t.Fatalf("expected size limit to force multiple batches, got %d", len(batches))
	}
}

func TestMarkSendFailedRevertsToPendingUntilMaxAttempts(t *testing.T) {
	q := NewQueue()
	op, _ := q.Admit("tenant1", KindTag, NetworkProduction, []string{"tag1"})

	q.MarkProcessing(op)
	q.MarkSendFailed(op, errors.New("boom"))
	if op.Status != StatusPending || op.Attempts != 1 {
		t.Fatalf("expected pending/1 after first failure, got %s/%d", op.Status, op.Attempts)
	}

	q.MarkProcessing(op)
	q.MarkSendFailed(op, errors.New("boom"))
	q.MarkProcessing(op)
	q.MarkSendFailed(op, errors.New("boom"))
	if op.Status != StatusFailed {
		t.Fatalf("expected failed after %d attempts, got %s (attempts=%d)", maxAttempts, op.Status, op.Attempts)
	}
}

func TestResumeFromRestartRevertsProcessing(t *testing.T) {
	q := NewQueue()
	op, _ := q.Admit("tenant1", KindTag, NetworkProduction, []string{"tag1"})
	q.MarkProcessing(op)

	q.ResumeFromRestart("tenant1")
	if op.Status != StatusPending {
		t.Fatalf("expected pending after resume, got %s", op.Status)
	}
	if op.Attempts != 1 {
		t.Fatalf("expected attempts incremented to 1, got %d", op.Attempts)
	}
}
