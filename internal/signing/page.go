package signing

import (
	"net/http"
	"strconv"
	"strings"
)

// Page describes one page of a back-end list response, covering both
// pagination styles spec §6 names: offset/limit and Link headers. Adapted
// from the teacher's opaque-cursor struct (internal/syncx/cursor.go), here
// generalized to the back-end APIs' own conventions instead of a single
// internal cursor encoding.
type Page struct {
	Offset     int
	Limit      int
	NextOffset int
	HasMore    bool
	NextLink   string // from the Link: <url>; rel="next" header, if present
}

// NextPageParams returns the offset/limit query values to request the next
// page, or ok=false if there is no next page.
func (p Page) NextPageParams() (offset, limit int, ok bool) {
	if !p.HasMore {
		return 0, 0, false
	}
	return p.NextOffset, p.Limit, true
}

// ParseLinkHeader extracts the "next" relation URL from an RFC 8288 Link
// header, e.g. `<https://h/x?offset=20>; rel="next"`.
func ParseLinkHeader(h http.Header) string {
	raw := h.Get("Link")
	if raw == "" {
		return ""
	}
	for _, part := range strings.Split(raw, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		url := strings.TrimSpace(segs[0])
		url = strings.TrimPrefix(url, "<")
		url = strings.TrimSuffix(url, ">")
		for _, attr := range segs[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` || attr == "rel=next" {
				return url
			}
		}
	}
	return ""
}

// PageFromOffsetLimit builds a Page from an offset/limit request and the
// total count reported by the back-end.
func PageFromOffsetLimit(offset, limit, returned, total int) Page {
	next := offset + returned
	return Page{
		Offset:     offset,
		Limit:      limit,
		NextOffset: next,
		HasMore:    next < total,
	}
}

// ParseOffsetLimitQuery parses "offset"/"limit" query parameters, defaulting
// limit to def if absent or invalid.
func ParseOffsetLimitQuery(q map[string][]string, def int) (offset, limit int) {
	limit = def
	if v, ok := q["limit"]; ok && len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil && n > 0 {
			limit = n
		}
	}
	if v, ok := q["offset"]; ok && len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil && n >= 0 {
			offset = n
		}
	}
	return offset, limit
}
