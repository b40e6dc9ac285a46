package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgegate/gateway-core/internal/gwerrors"
)

// RegisterCacheTools wires the smart cache (spec §4.3) into reg.
func RegisterCacheTools(reg *Registry) {
	reg.MustRegister(ToolDefinition{
		Name:           "cache.get",
		Description:    "Fetch a cached value by key, scoped to the caller's tenant.",
		RequiredScopes: []string{"cache:read"},
	}, handleCacheGet)

	reg.MustRegister(ToolDefinition{
		Name:           "cache.set",
		Description:    "Write a value into the cache with a hard and soft TTL.",
		RequiredScopes: []string{"cache:write"},
	}, handleCacheSet)

	reg.MustRegister(ToolDefinition{
		Name:           "cache.invalidate",
		Description:    "Invalidate every cache entry for the caller's tenant.",
		RequiredScopes: []string{"cache:write"},
	}, handleCacheInvalidateTenant)
}

type cacheGetArgs struct {
	Key string `json:"key"`
}

type cacheGetResult struct {
	Found bool   `json:"found"`
	Value []byte `json:"value,omitempty"`
}

func handleCacheGet(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	var a cacheGetArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Key == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "cache.get requires a non-empty key", nil)
	}
	key := toolCtx.TenantID + ":" + a.Key
	value, found, err := toolCtx.Subsystems.Cache.Get(key)
	if err != nil {
		return nil, err
	}
	return cacheGetResult{Found: found, Value: value}, nil
}

type cacheSetArgs struct {
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	HardTTL int    `json:"hard_ttl_seconds"`
	SoftTTL int    `json:"soft_ttl_seconds"`
}

func handleCacheSet(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	var a cacheSetArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Key == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "cache.set requires a non-empty key", nil)
	}
	if a.HardTTL <= 0 {
		return nil, gwerrors.New(gwerrors.KindValidation, "cache.set requires a positive hard_ttl_seconds", nil)
	}
	key := toolCtx.TenantID + ":" + a.Key
	hard := time.Duration(a.HardTTL) * time.Second
	soft := time.Duration(a.SoftTTL) * time.Second
	if err := toolCtx.Subsystems.Cache.Set(key, a.Value, hard, soft); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func handleCacheInvalidateTenant(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	n := toolCtx.Subsystems.Cache.InvalidateTenant(toolCtx.TenantID)
	return map[string]any{"invalidated": n}, nil
}
