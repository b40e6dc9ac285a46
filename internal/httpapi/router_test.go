package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgegate/gateway-core/internal/dispatch"
	"github.com/edgegate/gateway-core/internal/tenancy"
)

func testServer(t *testing.T) (*Server, *tenancy.ContextManager) {
	t.Helper()

	store, err := tenancy.NewIniStore("")
	if err != nil {
		t.Fatalf("NewIniStore: %v", err)
	}
	tm := tenancy.NewContextManager(store, tenancy.AllowAllPredicate{}, nil, nil)
	tm.RegisterSession(&tenancy.Session{
		SessionID:    "sess-1",
		Subject:      "user-1",
		CurrentIndex: 0,
		ExpiresAt:    time.Now().Add(time.Hour),
		Available: []tenancy.TenantContext{
			{TenantID: "acme", CurrentEnv: "production", PermissionSet: []string{"cache:read"}},
		},
	})

	reg := dispatch.NewRegistry()
	dispatch.RegisterTenancyTools(reg)

	d := dispatch.NewDispatcher(reg, nil, tm, &dispatch.Subsystems{Tenancy: tm}, zerolog.Nop())

	return &Server{
		Dispatcher:      d,
		Registry:        reg,
		RateLimitConfig: RateLimitInfo{WindowSeconds: 60, MaxRequests: 1000, Burst: 1000},
	}, tm
}

func TestInfoListsRegisteredTools(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/gateway/info", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var info GatewayInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(info.Tools) == 0 {
		t.Fatal("expected at least one tool listed")
	}
}

func TestCallToolRejectsUnknownTool(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Routes()

	body, _ := json.Marshal(dispatch.CallRequest{Name: "does.not.exist"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tools/call", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCallToolInvokesTenancyList(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Routes()

	body, _ := json.Marshal(dispatch.CallRequest{Name: "tenancy.list", SessionToken: "sess-1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tools/call", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result dispatch.CallResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(result.Content))
	}
}

func TestAdminTenantListUsesSessionHeader(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tenants", nil)
	req.Header.Set("X-Gateway-Session", "sess-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminTenantListRejectsMissingSession(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tenants", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthzReportsOK(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
