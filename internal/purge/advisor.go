package purge

import (
	"strings"
	"time"
)

// ConsolidationSuggestion is a non-binding recommendation to replace many
// pending URL purges on one domain with a single cpcode purge, spec
// §4.4.1 "Consolidation advisor".
type ConsolidationSuggestion struct {
	Domain            string
	URLCount          int
	EstimatedTimeSaved time.Duration
}

// Advise scans tenant's pending URL-kind operations and suggests
// cpcode-conversion for any domain accumulating more than 100 URLs. The
// advisor never mutates the queue; it is a read-only report.
func Advise(q *Queue, tenant string) []ConsolidationSuggestion {
	counts := make(map[string]int)
	for _, op := range q.Pending(tenant) {
		if op.Kind != KindURL {
			continue
		}
		for _, u := range op.Objects {
			counts[domainOf(u)]++
		}
	}

	var out []ConsolidationSuggestion
	for domain, count := range counts {
		if count <= 100 {
			continue
		}
		savedSeconds := 5.0 * (float64(count)/50.0 - 1.0)
		if savedSeconds < 0 {
			savedSeconds = 0
		}
		out = append(out, ConsolidationSuggestion{
			Domain:            domain,
			URLCount:          count,
			EstimatedTimeSaved: time.Duration(savedSeconds * float64(time.Second)),
		})
	}
	return out
}

// domainOf extracts the host portion of a purge URL object without
// pulling in net/url's full validation, since purge objects are not
// guaranteed to be well-formed absolute URLs (they may be bare paths).
func domainOf(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	return s
}
