package dispatch

import (
	"context"
	"encoding/json"

	"github.com/edgegate/gateway-core/internal/gwerrors"
)

// RegisterTenancyTools wires multi-tenant context switching (spec §4.2)
// into reg.
func RegisterTenancyTools(reg *Registry) {
	reg.MustRegister(ToolDefinition{
		Name:        "tenancy.switch",
		Description: "Switch the calling session's current tenant context.",
	}, handleTenancySwitch)

	reg.MustRegister(ToolDefinition{
		Name:           "tenancy.invalidate-cache",
		Description:    "Flush every cache entry under the caller's tenant prefix.",
		RequiredScopes: []string{"cache:write"},
	}, handleTenancyInvalidateCache)

	reg.MustRegister(ToolDefinition{
		Name:        "tenancy.list",
		Description: "List the tenant contexts the calling session may switch into.",
	}, handleTenancyList)
}

type tenancySwitchArgs struct {
	TenantID string `json:"tenant_id"`
}

func handleTenancySwitch(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	var a tenancySwitchArgs
	if err := json.Unmarshal(args, &a); err != nil || a.TenantID == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "tenancy.switch requires a tenant_id", nil)
	}
	if err := toolCtx.Subsystems.Tenancy.SwitchContext(ctx, toolCtx.SessionID, a.TenantID); err != nil {
		return nil, err
	}
	return map[string]any{"tenant_id": a.TenantID}, nil
}

func handleTenancyInvalidateCache(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	n := toolCtx.Subsystems.Cache.InvalidateTenant(toolCtx.TenantID)
	return map[string]any{"invalidated": n}, nil
}

func handleTenancyList(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	contexts, err := toolCtx.Subsystems.Tenancy.Available(toolCtx.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tenants": contexts}, nil
}
