package signing

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/edgegate/gateway-core/internal/gwerrors"
)

// DecodeProblem parses an RFC 7807 body if the response's Content-Type
// indicates one, or best-effort if the body merely looks like one. Returns
// nil (not an error) if the body cannot be parsed as a problem detail.
func DecodeProblem(resp *http.Response, body []byte) *gwerrors.ProblemDetail {
	if len(body) == 0 {
		return nil
	}
	var p gwerrors.ProblemDetail
	if err := json.Unmarshal(body, &p); err != nil {
		return nil
	}
	if p.Title == "" && p.Detail == "" && p.Type == "" {
		return nil
	}
	return &p
}

// ReadBodyLimited reads up to limit bytes of resp.Body, closing it.
func ReadBodyLimited(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// MapStatus converts an HTTP status code to a gwerrors.Kind per spec §4.1's
// error mapping table.
func MapStatus(status int) gwerrors.Kind {
	switch {
	case status == http.StatusBadRequest:
		return gwerrors.KindValidation
	case status == http.StatusUnauthorized:
		return gwerrors.KindUnauthorized
	case status == http.StatusForbidden:
		return gwerrors.KindForbidden
	case status == http.StatusNotFound:
		return gwerrors.KindNotFound
	case status == http.StatusConflict:
		return gwerrors.KindConflict
	case status == http.StatusTooManyRequests:
		return gwerrors.KindRateLimited
	case status >= 500:
		return gwerrors.KindTransient
	default:
		return gwerrors.KindUpstream
	}
}
