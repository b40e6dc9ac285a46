package tenancy

import "time"

// TenantContext is spec §3's tenant context: the scope a session is
// currently operating under. PermissionSet is an opaque set of
// capability strings that the dispatcher checks against a tool's
// RequiredScopes; it is not interpreted by ContextManager itself.
type TenantContext struct {
	TenantID          string
	DisplayName       string
	CurrentEnv        string
	CredentialBundleID string // "<tenant>:<env>", resolved against a CredentialStore
	PermissionSet     []string
}

// Session is spec §3's session: the result of authenticating an opaque
// bearer token. CurrentIndex is -1 until the caller performs an
// initial SwitchContext.
type Session struct {
	SessionID     string
	Subject       string
	Available     []TenantContext
	CurrentIndex  int // index into Available, -1 if none selected yet
	ExpiresAt     time.Time
}

// Expired reports whether the session has passed its expiry timestamp.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Current returns the session's current tenant context, or false if
// none has been selected yet.
func (s *Session) Current() (TenantContext, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Available) {
		return TenantContext{}, false
	}
	return s.Available[s.CurrentIndex], true
}

// Lookup returns the tenant context for tenantID within Available, if
// the session has access to it.
func (s *Session) Lookup(tenantID string) (TenantContext, bool) {
	idx := s.indexOf(tenantID)
	if idx < 0 {
		return TenantContext{}, false
	}
	return s.Available[idx], true
}

// indexOf returns the index of the context for tenantID within
// Available, or -1 if not present.
func (s *Session) indexOf(tenantID string) int {
	for i, tc := range s.Available {
		if tc.TenantID == tenantID {
			return i
		}
	}
	return -1
}
