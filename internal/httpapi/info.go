package httpapi

import (
	"net/http"
	"time"
)

// GatewayInfo describes this gateway instance's registered tools and
// version, for unauthenticated capability discovery.
type GatewayInfo struct {
	APIVersion string       `json:"apiVersion"`
	ServerTime string       `json:"serverTime"`
	Tools      []ToolSketch `json:"tools"`
}

// ToolSketch is a tool's public metadata, omitting anything scoped to a
// particular session.
type ToolSketch struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Public         bool     `json:"public"`
	RequiredScopes []string `json:"requiredScopes,omitempty"`
}

// Info handles GET /v1/gateway/info. It lists every registered tool so
// operators and clients can discover the invocation surface without a
// session.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	defs := s.Registry.List()
	tools := make([]ToolSketch, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, ToolSketch{
			Name:           d.Name,
			Description:    d.Description,
			Public:         d.Public,
			RequiredScopes: d.RequiredScopes,
		})
	}

	writeJSON(w, http.StatusOK, GatewayInfo{
		APIVersion: "1.0",
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		Tools:      tools,
	})
}
