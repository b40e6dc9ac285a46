package purge

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/google/uuid"
)

const dedupWindow = 5 * time.Minute

// maxBatchBytes and maxBatchObjects are the FastPurge batch limits, spec
// §4.4.1 "Batching".
const (
	maxBatchBytes   = 50 * 1024
	maxBatchObjects = 5000
)

const maxAttempts = 3

// tenantQueue holds one tenant's admitted operations plus its recent
// dedup-key admission times.
type tenantQueue struct {
	ops       []*Operation
	recentDedup map[string]time.Time
}

// Queue is the per-tenant FastPurge admission and batching queue, spec
// §4.4.1. One Queue instance serves every tenant.
type Queue struct {
	mu      sync.Mutex
	tenants map[string]*tenantQueue
}

// NewQueue builds an empty Queue.
func NewQueue() *Queue {
	return &Queue{tenants: make(map[string]*tenantQueue)}
}

func (q *Queue) tenantQueue(tenant string) *tenantQueue {
	tq, ok := q.tenants[tenant]
	if !ok {
		tq = &tenantQueue{recentDedup: make(map[string]time.Time)}
		q.tenants[tenant] = tq
	}
	return tq
}

// Admit validates and enqueues a new purge request, applying dedup
// rejection, priority assignment, and size estimation per spec §4.4.1.
func (q *Queue) Admit(tenant string, kind Kind, network Network, objects []string) (*Operation, error) {
	if len(objects) == 0 {
		return nil, gwerrors.New(gwerrors.KindValidation, "purge request must include at least one object", nil)
	}

	dedupKey := DedupKey(kind, objects)

	q.mu.Lock()
	defer q.mu.Unlock()

	tq := q.tenantQueue(tenant)
	now := time.Now()
	if last, ok := tq.recentDedup[dedupKey]; ok && now.Sub(last) < dedupWindow {
		return nil, gwerrors.New(gwerrors.KindConflict, "duplicate purge request within dedup window", map[string]any{
			"reason": "duplicate",
		})
	}
	tq.recentDedup[dedupKey] = now

	op := &Operation{
		OpID:          uuid.NewString(),
		Tenant:        tenant,
		Kind:          kind,
		Network:       network,
		Objects:       objects,
		Priority:      Priority(kind, len(objects)),
		CreatedAt:     now,
		Status:        StatusPending,
		DedupKey:      dedupKey,
		EstimatedSize: EstimateSize(objects),
	}
	tq.ops = append(tq.ops, op)
	sortByPriority(tq.ops)
	return op, nil
}

func sortByPriority(ops []*Operation) {
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Priority < ops[j].Priority })
}

// Pending returns a tenant's queue ordered by priority (a snapshot; the
// caller must not mutate the returned slice's Operations directly, use
// MarkProcessing/MarkSent/MarkSendFailed).
func (q *Queue) Pending(tenant string) []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.tenants[tenant]
	if !ok {
		return nil
	}
	out := make([]*Operation, 0, len(tq.ops))
	for _, op := range tq.ops {
		if op.Status == StatusPending {
			out = append(out, op)
		}
	}
	return out
}

// MarkProcessing transitions op to the transient "being sent" state so a
// concurrent drain pass or a restart doesn't resend it; spec §4.4.1's
// persistence rule reverts this to pending (with attempts++) if the
// process stops before a terminal outcome is recorded.
func (q *Queue) MarkProcessing(op *Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op.Status = StatusProcessing
	op.LastAttempt = time.Now()
}

// MarkSent transitions op to in-progress once its batches have been
// submitted to the back end and are now tracked by the status tracker.
func (q *Queue) MarkSent(op *Operation, batches []BatchResponse) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op.Status = StatusInProgress
	op.BatchResponses = batches
}

// MarkSendFailed reverts op to pending and increments attempts, or marks
// it permanently failed after maxAttempts, per spec §4.4.1 "Retry".
func (q *Queue) MarkSendFailed(op *Operation, sendErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op.Attempts++
	op.LastAttempt = time.Now()
	op.LastError = sendErr.Error()
	if op.Attempts >= maxAttempts {
		op.Status = StatusFailed
		return
	}
	op.Status = StatusPending
}

// ResumeFromRestart reverts any operation left in the transient
// "processing" state to pending with attempts incremented, per spec
// §4.4.1: "any entries in processing state at shutdown revert to
// pending with attempts++".
func (q *Queue) ResumeFromRestart(tenant string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.tenants[tenant]
	if !ok {
		return
	}
	for _, op := range tq.ops {
		if op.Status == StatusProcessing {
			op.Status = StatusPending
			op.Attempts++
		}
	}
	sortByPriority(tq.ops)
}

// LoadOperations replaces a tenant's queue wholesale, used when
// restoring from a persisted snapshot at startup.
func (q *Queue) LoadOperations(tenant string, ops []*Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq := q.tenantQueue(tenant)
	tq.ops = ops
	sortByPriority(tq.ops)
}

// Snapshot returns every operation currently tracked for tenant,
// regardless of status, for persistence.
func (q *Queue) Snapshot(tenant string) []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.tenants[tenant]
	if !ok {
		return nil
	}
	return append([]*Operation(nil), tq.ops...)
}

// Tenants returns the set of tenant IDs with at least one tracked
// operation, for persistence sweeps.
func (q *Queue) Tenants() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tenants))
	for t := range q.tenants {
		out = append(out, t)
	}
	return out
}

// Batch packs objects into batches honoring spec §4.4.1's limits:
// serialized size ≤ 50 KiB and count ≤ 5,000 per batch, greedily filled.
func Batch(objects []string) [][]string {
	var batches [][]string
	var current []string
	size := 2 // "[]"
	for _, obj := range objects {
		objSize := len(obj) + 3
		if len(current) > 0 && (len(current) >= maxBatchObjects || size+objSize > maxBatchBytes) {
			batches = append(batches, current)
			current = nil
			size = 2
		}
		current = append(current, obj)
		size += objSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// ValidateNetwork rejects unknown network values early, matching the
// teacher's preference for validating request shape before any queue
// mutation (internal/httpapi/rest_items.go's parameter validation).
func ValidateNetwork(n Network) error {
	switch n {
	case NetworkStaging, NetworkProduction:
		return nil
	default:
		return gwerrors.New(gwerrors.KindValidation, fmt.Sprintf("invalid network %q", n), nil)
	}
}
