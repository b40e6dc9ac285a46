// Package dispatch implements the tool dispatcher (spec §4.6): it parses
// incoming tool-invocation messages, resolves authentication,
// authorization, and tenant scope, invokes the corresponding gateway
// operation, and formats the response.
//
// Grounded on the teacher's internal/mcpserver/tools package: tool.go for
// ToolDefinition/Handler/CallRequest/CallResult's shape, registry.go for
// the name-keyed Registry, and context.go for ToolContext, all
// generalized from the teacher's notes/tasks domain to this gateway's
// tenancy/cache/purge/certs domain.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// ToolDefinition describes one invocable tool: its name, a human
// description, its JSON input schema, and the scopes a caller must hold
// to invoke it. Public tools skip the authentication step entirely
// (spec §4.6: "Authentication if the tool is not marked public").
type ToolDefinition struct {
	Name            string
	Description     string
	InputSchema     map[string]any
	RequiredScopes  []string
	Public          bool
}

// Handler executes one tool invocation. toolCtx carries the resolved
// session/tenant and the wired subsystem clients; args is the raw
// tool-specific argument payload.
type Handler func(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error)

// CallRequest is spec §4.6's invocation contract:
// {tool-name, arguments, session-token?}.
type CallRequest struct {
	Name         string          `json:"tool_name"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	SessionToken string          `json:"session_token,omitempty"`
	Customer     string          `json:"customer,omitempty"`
}

// CallResult is spec §4.6's success contract: {content: [{text}]}.
type CallResult struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolContext is the per-invocation handle a Handler operates through.
// SessionID/Subject/TenantID are resolved by the Dispatcher before the
// handler runs; handlers never re-authenticate or re-authorize.
type ToolContext struct {
	Logger    zerolog.Logger
	SessionID string
	Subject   string
	TenantID  string
	Env       string

	Subsystems *Subsystems

	// permissions is the resolved tenant context's scope set, set by
	// Dispatcher before the handler runs. Handlers read scopes through
	// Dispatcher's authorization step, not directly.
	permissions []string
}
