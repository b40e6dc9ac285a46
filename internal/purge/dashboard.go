package purge

import "time"

// Dashboard is spec §4.4.2's "Customer dashboard": derivable aggregates
// over a tenant's operation history, computed on demand from whatever
// operations the caller passes in (typically Queue.Snapshot plus any
// already-retired terminal operations the caller retains for reporting).
type Dashboard struct {
	ActiveCount        int
	CompletedToday     int
	FailureRate        float64
	AverageCompletion  time.Duration
	TotalObjectsPurged int
	RateLimitUtilization float64 // 0..1, fraction of the sliding window consumed
	LastErrors         []string
	SuccessRate        float64
	ThroughputToday    int // objects purged today
}

const maxLastErrors = 10

// ComputeDashboard derives Dashboard fields from ops, as of now.
func ComputeDashboard(ops []*Operation, now time.Time, rateLimitUsed, rateLimitCapacity int) Dashboard {
	var d Dashboard
	var completionDurations []time.Duration
	var completedCount, terminalCount int

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, op := range ops {
		switch op.Status {
		case StatusPending, StatusProcessing, StatusInProgress:
			d.ActiveCount++
		case StatusCompleted, StatusPartial:
			completedCount++
			terminalCount++
			objCount := objectsIn(op)
			d.TotalObjectsPurged += objCount
			if op.CreatedAt.After(startOfDay) {
				d.CompletedToday++
				d.ThroughputToday += objCount
			}
			if last := lastBatchCompletion(op); !last.IsZero() {
				completionDurations = append(completionDurations, last.Sub(op.CreatedAt))
			}
		case StatusFailed:
			terminalCount++
			if op.LastError != "" {
				d.LastErrors = append(d.LastErrors, op.LastError)
			}
		}
	}

	if terminalCount > 0 {
		d.SuccessRate = float64(completedCount) / float64(terminalCount)
		d.FailureRate = 1 - d.SuccessRate
	}
	if len(completionDurations) > 0 {
		var sum time.Duration
		for _, d2 := range completionDurations {
			sum += d2
		}
		d.AverageCompletion = sum / time.Duration(len(completionDurations))
	}
	if rateLimitCapacity > 0 {
		d.RateLimitUtilization = float64(rateLimitUsed) / float64(rateLimitCapacity)
	}
	if len(d.LastErrors) > maxLastErrors {
		d.LastErrors = d.LastErrors[len(d.LastErrors)-maxLastErrors:]
	}
	return d
}

func objectsIn(op *Operation) int {
	n := 0
	for _, b := range op.BatchResponses {
		n += len(b.Objects)
	}
	if n == 0 {
		return len(op.Objects)
	}
	return n
}

func lastBatchCompletion(op *Operation) time.Time {
	var last time.Time
	for _, b := range op.BatchResponses {
		if b.CompletedAt.After(last) {
			last = b.CompletedAt
		}
	}
	return last
}
