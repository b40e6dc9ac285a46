package signing

import (
	"net/http"
	"strconv"
)

// RateLimitInfo is the structured rate-limit surface spec §4.1 requires on
// every response.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     int64 // unix seconds
	Window    int   // seconds
	Present   bool
}

// ParseRateLimitHeaders extracts X-RateLimit-* headers into a RateLimitInfo.
func ParseRateLimitHeaders(h http.Header) RateLimitInfo {
	info := RateLimitInfo{}
	if v := h.Get("X-RateLimit-Limit"); v != "" {
		info.Present = true
		info.Limit, _ = strconv.Atoi(v)
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		info.Present = true
		info.Remaining, _ = strconv.Atoi(v)
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		info.Present = true
		info.Reset, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := h.Get("X-RateLimit-Window"); v != "" {
		info.Present = true
		info.Window, _ = strconv.Atoi(v)
	}
	return info
}
