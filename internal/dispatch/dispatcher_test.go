package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/edgegate/gateway-core/internal/tenancy"
)

func testDispatcher(t *testing.T, def ToolDefinition, handler Handler) (*Dispatcher, *tenancy.ContextManager) {
	t.Helper()

	store, err := tenancy.NewIniStore("")
	if err != nil {
		t.Fatalf("NewIniStore: %v", err)
	}

	tm := tenancy.NewContextManager(store, tenancy.AllowAllPredicate{}, nil, nil)

	session := &tenancy.Session{
		SessionID:    "sess-1",
		Subject:      "user-1",
		CurrentIndex: 0,
		ExpiresAt:    time.Now().Add(time.Hour),
		Available: []tenancy.TenantContext{
			{TenantID: "acme", CurrentEnv: "production", PermissionSet: []string{"cache:read"}},
		},
	}
	tm.RegisterSession(session)

	reg := NewRegistry()
	reg.MustRegister(def, handler)

	d := NewDispatcher(reg, nil, tm, &Subsystems{}, zerolog.Nop())
	return d, tm
}

func TestDispatchRejectsUnknownTool(t *testing.T) {
	d, _ := testDispatcher(t, ToolDefinition{Name: "known", Public: true}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	_, err := d.Dispatch(context.Background(), CallRequest{Name: "unknown"})
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	gerr, ok := err.(*gwerrors.Error)
	if !ok {
		t.Fatalf("expected *gwerrors.Error, got %T", err)
	}
	if gerr.Kind != gwerrors.KindNotFound {
		t.Errorf("expected KindNotFound, got %s", gerr.Kind)
	}
}

func TestDispatchPublicToolSkipsAuthentication(t *testing.T) {
	d, _ := testDispatcher(t, ToolDefinition{Name: "ping", Public: true}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return map[string]any{"pong": true}, nil
	})

	result, err := d.Dispatch(context.Background(), CallRequest{Name: "ping"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("unexpected result shape: %+v", result)
	}
}

func TestDispatchRejectsMissingSessionTokenForPrivateTool(t *testing.T) {
	d, _ := testDispatcher(t, ToolDefinition{Name: "private.op"}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	_, err := d.Dispatch(context.Background(), CallRequest{Name: "private.op"})
	if err == nil {
		t.Fatal("expected error for missing session token")
	}
	gerr, ok := err.(*gwerrors.Error)
	if !ok || gerr.Kind != gwerrors.KindUnauthorized {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
}

func TestDispatchResolvesSessionAndTenant(t *testing.T) {
	var gotTenant, gotSession string
	d, _ := testDispatcher(t, ToolDefinition{Name: "whoami"}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		gotTenant = tc.TenantID
		gotSession = tc.SessionID
		return map[string]any{"ok": true}, nil
	})

	_, err := d.Dispatch(context.Background(), CallRequest{Name: "whoami", SessionToken: "sess-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTenant != "acme" {
		t.Errorf("expected tenant acme, got %q", gotTenant)
	}
	if gotSession != "sess-1" {
		t.Errorf("expected session sess-1, got %q", gotSession)
	}
}

func TestDispatchRejectsMissingScope(t *testing.T) {
	d, _ := testDispatcher(t, ToolDefinition{Name: "needs.scope", RequiredScopes: []string{"cert:write"}}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	_, err := d.Dispatch(context.Background(), CallRequest{Name: "needs.scope", SessionToken: "sess-1"})
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	gerr, ok := err.(*gwerrors.Error)
	if !ok || gerr.Kind != gwerrors.KindForbidden {
		t.Fatalf("expected KindForbidden, got %v", err)
	}
}

func TestDispatchAllowsGrantedScope(t *testing.T) {
	d, _ := testDispatcher(t, ToolDefinition{Name: "has.scope", RequiredScopes: []string{"cache:read"}}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	_, err := d.Dispatch(context.Background(), CallRequest{Name: "has.scope", SessionToken: "sess-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatchEnforcesResponseSizeBound(t *testing.T) {
	big := make([]byte, maxResponseBytes+1)
	d, _ := testDispatcher(t, ToolDefinition{Name: "huge", Public: true}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return big, nil
	})

	_, err := d.Dispatch(context.Background(), CallRequest{Name: "huge"})
	if err == nil {
		t.Fatal("expected size bound error")
	}
	gerr, ok := err.(*gwerrors.Error)
	if !ok || gerr.Kind != gwerrors.KindInternal {
		t.Fatalf("expected KindInternal, got %v", err)
	}
}

func TestDispatchRejectsUnavailableCustomer(t *testing.T) {
	d, _ := testDispatcher(t, ToolDefinition{Name: "scoped.op"}, func(ctx context.Context, tc *ToolContext, args json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	_, err := d.Dispatch(context.Background(), CallRequest{Name: "scoped.op", SessionToken: "sess-1", Customer: "other-tenant"})
	if err == nil {
		t.Fatal("expected error for unavailable tenant")
	}
	gerr, ok := err.(*gwerrors.Error)
	if !ok || gerr.Kind != gwerrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}
