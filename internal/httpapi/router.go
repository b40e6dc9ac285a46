package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/edgegate/gateway-core/internal/dispatch"
)

// Server is the boundary HTTP surface: it exposes the dispatcher's
// tool-invocation contract (§4.6) plus a handful of read-only
// convenience endpoints for operators. It is not a second transport
// implementation for the tool protocol, which is out of scope.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *dispatch.Registry

	RateLimitConfig RateLimitInfo
}

// DefaultRateLimitConfig is the baseline rate limit applied to the
// boundary router.
var DefaultRateLimitConfig = RateLimitInfo{
	WindowSeconds: 60,
	MaxRequests:   600,
	Burst:         120,
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorResponse is the boundary router's JSON error envelope,
// correlating a failure with the request that produced it.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

// writeError writes a JSON error response with a correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error:         message,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// Routes builds the boundary HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SessionMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Gateway-Session", "X-Correlation-ID"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/v1/gateway/info", s.Info)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.RateLimitConfig, SessionOrIPKey))

		r.Post("/v1/tools/call", s.CallTool)

		r.Get("/v1/admin/purge/{tenant}", s.AdminPurgeStatus)
		r.Get("/v1/admin/certs/{enrollment}", s.AdminCertStatus)
		r.Get("/v1/admin/tenants", s.AdminTenantList)
	})

	log.Info().Msg("gateway HTTP routes registered")
	return r
}
