package dispatch

import (
	"context"
	"encoding/json"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/edgegate/gateway-core/internal/purge"
)

// RegisterPurgeTools wires the FastPurge pipeline (spec §4.4) into reg.
func RegisterPurgeTools(reg *Registry) {
	reg.MustRegister(ToolDefinition{
		Name:           "purge.submit",
		Description:    "Admit a purge request for the caller's tenant.",
		RequiredScopes: []string{"purge:write"},
	}, handlePurgeSubmit)

	reg.MustRegister(ToolDefinition{
		Name:           "purge.status",
		Description:    "List pending and in-flight purge operations for the caller's tenant.",
		RequiredScopes: []string{"purge:read"},
	}, handlePurgeStatus)

	reg.MustRegister(ToolDefinition{
		Name:           "purge.advise",
		Description:    "Return non-binding consolidation suggestions for the caller's tenant's queue.",
		RequiredScopes: []string{"purge:read"},
	}, handlePurgeAdvise)
}

type purgeSubmitArgs struct {
	Kind    string   `json:"kind"`
	Network string   `json:"network"`
	Objects []string `json:"objects"`
}

func handlePurgeSubmit(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	var a purgeSubmitArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, gwerrors.New(gwerrors.KindValidation, "malformed purge.submit arguments", nil)
	}
	if len(a.Objects) == 0 {
		return nil, gwerrors.New(gwerrors.KindValidation, "purge.submit requires at least one object", nil)
	}

	network := purge.Network(a.Network)
	if err := purge.ValidateNetwork(network); err != nil {
		return nil, err
	}

	if !toolCtx.Subsystems.Limiter.Allow(toolCtx.TenantID) {
		return nil, gwerrors.New(gwerrors.KindRateLimited, "purge rate limit exceeded for tenant", nil)
	}

	op, err := toolCtx.Subsystems.Purge.Admit(toolCtx.TenantID, purge.Kind(a.Kind), network, a.Objects)
	if err != nil {
		return nil, err
	}

	if toolCtx.Subsystems.Tracker != nil {
		go toolCtx.Subsystems.Tracker.Track(context.Background(), op)
	}

	return op, nil
}

func handlePurgeStatus(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	var ops []*purge.Operation
	for _, op := range toolCtx.Subsystems.Purge.Snapshot(toolCtx.TenantID) {
		switch op.Status {
		case purge.StatusPending, purge.StatusProcessing, purge.StatusInProgress:
			ops = append(ops, op)
		}
	}
	return map[string]any{"operations": ops}, nil
}

func handlePurgeAdvise(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	suggestions := purge.Advise(toolCtx.Subsystems.Purge, toolCtx.TenantID)
	return map[string]any{"suggestions": suggestions}, nil
}
