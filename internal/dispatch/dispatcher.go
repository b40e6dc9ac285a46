package dispatch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/edgegate/gateway-core/internal/tenancy"
)

// maxResponseBytes is the practical ceiling on a tool response payload
// before transport framing, spec §4.6.
const maxResponseBytes = 50 * 1024

// IdentityProvider validates an opaque session bearer token. The core
// does not mint tokens itself (spec §6); this is the injected
// abstraction spec §6 describes.
type IdentityProvider interface {
	Validate(ctx context.Context, token string) error
}

// AllowAllIdentity treats every non-empty token as valid. Useful for
// local development and as the zero-value default; not for production.
type AllowAllIdentity struct{}

func (AllowAllIdentity) Validate(ctx context.Context, token string) error {
	if token == "" {
		return gwerrors.New(gwerrors.KindUnauthorized, "missing session token", nil)
	}
	return nil
}

// Dispatcher implements spec §4.6's tool-invocation contract end to
// end: authentication, scope authorization, tenant resolution, handler
// execution, and response-size enforcement.
type Dispatcher struct {
	registry   *Registry
	identity   IdentityProvider
	tenancy    *tenancy.ContextManager
	subsystems *Subsystems
	log        zerolog.Logger
}

// NewDispatcher builds a Dispatcher. identity may be nil, defaulting to
// AllowAllIdentity (development mode).
func NewDispatcher(registry *Registry, identity IdentityProvider, tm *tenancy.ContextManager, subsystems *Subsystems, log zerolog.Logger) *Dispatcher {
	if identity == nil {
		identity = AllowAllIdentity{}
	}
	return &Dispatcher{
		registry:   registry,
		identity:   identity,
		tenancy:    tm,
		subsystems: subsystems,
		log:        log.With().Str("component", "dispatch.Dispatcher").Logger(),
	}
}

// Dispatch resolves req against the registry and runs its handler,
// enforcing spec §4.6's contract. The returned error, if any, is always
// a *gwerrors.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, req CallRequest) (*CallResult, error) {
	def, handler, ok := d.registry.Get(req.Name)
	if !ok {
		return nil, gwerrors.New(gwerrors.KindNotFound, "unknown tool: "+req.Name, nil)
	}

	toolCtx := &ToolContext{Logger: d.log, Subsystems: d.subsystems}

	if !def.Public {
		if err := d.authenticate(ctx, req, toolCtx); err != nil {
			return nil, err
		}
		if err := d.authorizeScopes(def, toolCtx); err != nil {
			return nil, err
		}
	}

	result, err := handler(ctx, toolCtx, req.Arguments)
	if err != nil {
		return nil, err
	}

	return d.render(result)
}

// authenticate validates the session token, resolves the session, and
// resolves the tenant scope (the request's explicit "customer" argument
// or, absent that, the session's current context), per spec §4.6.
func (d *Dispatcher) authenticate(ctx context.Context, req CallRequest, toolCtx *ToolContext) error {
	if err := d.identity.Validate(ctx, req.SessionToken); err != nil {
		return gwerrors.New(gwerrors.KindUnauthorized, "invalid session token: "+err.Error(), nil)
	}

	session, err := d.tenancy.Authenticate(req.SessionToken)
	if err != nil {
		return err
	}

	var tenantCtx tenancy.TenantContext
	if req.Customer != "" {
		tc, ok := session.Lookup(req.Customer)
		if !ok {
			return gwerrors.New(gwerrors.KindNotFound, "tenant not available to this session", nil)
		}
		tenantCtx = tc
	} else {
		tc, ok := session.Current()
		if !ok {
			return gwerrors.New(gwerrors.KindValidation, "no tenant context selected; switch context or supply customer", nil)
		}
		tenantCtx = tc
	}

	toolCtx.SessionID = session.SessionID
	toolCtx.Subject = session.Subject
	toolCtx.TenantID = tenantCtx.TenantID
	toolCtx.Env = tenantCtx.CurrentEnv
	toolCtx.permissions = tenantCtx.PermissionSet
	return nil
}

// authorizeScopes checks that the resolved tenant context carries every
// scope def.RequiredScopes names, spec §4.6 "tool-name → required scope
// set".
func (d *Dispatcher) authorizeScopes(def ToolDefinition, toolCtx *ToolContext) error {
	if len(def.RequiredScopes) == 0 {
		return nil
	}
	granted := make(map[string]bool, len(toolCtx.permissions))
	for _, p := range toolCtx.permissions {
		granted[p] = true
	}
	for _, scope := range def.RequiredScopes {
		if !granted[scope] {
			return gwerrors.New(gwerrors.KindForbidden, "missing required scope: "+scope, nil)
		}
	}
	return nil
}

// render wraps a handler's return value in the spec §4.6 content
// envelope and enforces the response size bound.
func (d *Dispatcher) render(result any) (*CallResult, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "encoding tool result: "+err.Error(), nil)
	}
	if len(payload) > maxResponseBytes {
		return nil, gwerrors.New(gwerrors.KindInternal, "tool response exceeds size bound", map[string]any{
			"size_bytes": len(payload),
			"max_bytes":  maxResponseBytes,
		})
	}
	return &CallResult{Content: []ContentBlock{{Type: "text", Text: string(payload)}}}, nil
}
