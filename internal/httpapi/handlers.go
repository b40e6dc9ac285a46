package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edgegate/gateway-core/internal/dispatch"
	"github.com/edgegate/gateway-core/internal/gwerrors"
)

// CallTool handles POST /v1/tools/call, the single entry point for the
// tool-invocation contract (spec §4.6, §6). It is a thin JSON-to-Dispatch
// translation: every auth, tenant-resolution, and scope decision lives
// in internal/dispatch.
func (s *Server) CallTool(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallRequestBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req dispatch.CallRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed call request")
		return
	}

	result, err := s.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeToolError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// maxCallRequestBytes bounds the inbound call body at 256 KiB, five times
// the dispatcher's 50 KiB bound on outbound responses.
const maxCallRequestBytes = 256 * 1024

// writeToolError renders a dispatch error as an HTTP response, mapping
// gwerrors.Kind to the conventional status code for that failure class.
func writeToolError(w http.ResponseWriter, err error) {
	resp := dispatch.ToErrorResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusForCode(resp.Code))
	json.NewEncoder(w).Encode(resp)
}

func httpStatusForCode(code string) int {
	switch code {
	case gwerrors.KindValidation.ShortCode():
		return http.StatusBadRequest
	case gwerrors.KindUnauthorized.ShortCode():
		return http.StatusUnauthorized
	case gwerrors.KindForbidden.ShortCode():
		return http.StatusForbidden
	case gwerrors.KindNotFound.ShortCode():
		return http.StatusNotFound
	case gwerrors.KindConflict.ShortCode():
		return http.StatusConflict
	case gwerrors.KindRateLimited.ShortCode():
		return http.StatusTooManyRequests
	case gwerrors.KindUpstream.ShortCode():
		return http.StatusBadGateway
	case gwerrors.KindTransient.ShortCode():
		return http.StatusServiceUnavailable
	case gwerrors.KindTimeout.ShortCode():
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// adminCall builds a dispatch.CallRequest for tool from the request's
// session header and args, dispatches it, and writes the result. The
// three admin GET endpoints below are convenience wrappers over the
// same tool-call contract CallTool exposes, so they carry no auth or
// tenant-resolution logic of their own.
func (s *Server) adminCall(w http.ResponseWriter, r *http.Request, tool string, args map[string]any) {
	raw, err := json.Marshal(args)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to encode tool arguments")
		return
	}

	req := dispatch.CallRequest{
		Name:         tool,
		Arguments:    raw,
		SessionToken: r.Header.Get("X-Gateway-Session"),
		Customer:     r.URL.Query().Get("customer"),
	}

	result, err := s.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeToolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AdminPurgeStatus handles GET /v1/admin/purge/{tenant}, a read-only
// convenience view over purge.status for operators who'd rather curl a
// URL than construct a CallRequest body. The {tenant} path segment is
// informational only: the dispatcher resolves the tenant from the
// session, never from the URL.
func (s *Server) AdminPurgeStatus(w http.ResponseWriter, r *http.Request) {
	s.adminCall(w, r, "purge.status", map[string]any{})
}

// AdminCertStatus handles GET /v1/admin/certs/{enrollment}.
func (s *Server) AdminCertStatus(w http.ResponseWriter, r *http.Request) {
	enrollmentID := chi.URLParam(r, "enrollment")
	s.adminCall(w, r, "certs.status", map[string]any{"enrollment_id": enrollmentID})
}

// AdminTenantList handles GET /v1/admin/tenants.
func (s *Server) AdminTenantList(w http.ResponseWriter, r *http.Request) {
	s.adminCall(w, r, "tenancy.list", map[string]any{})
}
