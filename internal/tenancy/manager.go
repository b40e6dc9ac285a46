package tenancy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/edgegate/gateway-core/internal/shared"
	"github.com/edgegate/gateway-core/internal/signing"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AuditSink records tenant-switch and credential-rotation events.
// internal/audit provides a pgx-backed implementation; tests and
// single-process deployments can use NoopAuditSink.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuditEvent is one entry in the tenancy audit trail, per spec §4.2
// ("emit an audit record").
type AuditEvent struct {
	At        time.Time
	SessionID string
	Subject   string
	Action    string
	Resource  string
	Allowed   bool
	Reason    string
}

// NoopAuditSink discards events. Used where no durable sink is wired.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(ctx context.Context, event AuditEvent) {}

// ClientFactory builds a signed HTTP client for a credential bundle.
// Abstracted so ContextManager doesn't depend on a concrete transport
// (internal/signing.NewClient in production, a stub in tests).
type ClientFactory func(breakers *shared.BreakerRegistry) *signing.Client

// ContextManager resolves sessions to tenant contexts, authorizes
// switches and credential use, and brokers credential rotation, per
// spec §4.2. Grounded on the teacher's TokenBroker
// (internal/mcpserver/auth/broker.go) for the cache-then-acquire shape
// and per-key locking discipline, generalized from OAuth token caching
// to tenant-context switching.
type ContextManager struct {
	store     CredentialStore
	authz     AuthzPredicate
	audit     AuditSink
	breakers  *shared.BreakerRegistry
	newClient ClientFactory

	mu       sync.RWMutex
	sessions map[string]*Session

	switchMu sync.Map // sessionID -> *sync.Mutex, serializes concurrent switches per session
}

// NewContextManager builds a ContextManager. audit may be nil (defaults
// to NoopAuditSink).
func NewContextManager(store CredentialStore, authz AuthzPredicate, audit AuditSink, breakers *shared.BreakerRegistry) *ContextManager {
	if audit == nil {
		audit = NoopAuditSink{}
	}
	return &ContextManager{
		store:     store,
		authz:     authz,
		audit:     audit,
		breakers:  breakers,
		newClient: signing.NewClient,
		sessions:  make(map[string]*Session),
	}
}

// RegisterSession installs a newly authenticated session (the bearer
// token validation step itself — signature, expiry, revocation — is
// the caller's concern, typically internal/auth's JWT verifier adapted
// to gateway-core; ContextManager owns what happens after that point).
func (m *ContextManager) RegisterSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s
}

// Authenticate resolves a session by ID, rejecting expired or unknown
// sessions, per spec §4.2 failure semantics.
func (m *ContextManager) Authenticate(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, gwerrors.New(gwerrors.KindUnauthorized, "unknown session", nil)
	}
	if s.Expired(time.Now()) {
		return nil, gwerrors.New(gwerrors.KindUnauthorized, "session expired", nil)
	}
	return s, nil
}

// Available returns the tenant contexts a session may switch into,
// for client-facing tenant discovery.
func (m *ContextManager) Available(sessionID string) ([]TenantContext, error) {
	s, err := m.Authenticate(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Available, nil
}

func (m *ContextManager) sessionLock(sessionID string) *sync.Mutex {
	v, _ := m.switchMu.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// SwitchContext moves a session's current tenant context to targetTenantID
// after verifying membership in the session's available contexts and
// evaluating the authz predicate for ActionSwitch. Concurrent switches
// on the same session serialize (spec §4.2).
func (m *ContextManager) SwitchContext(ctx context.Context, sessionID, targetTenantID string) error {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.Authenticate(sessionID)
	if err != nil {
		return err
	}

	idx := session.indexOf(targetTenantID)
	if idx < 0 {
		return gwerrors.New(gwerrors.KindNotFound, "tenant not available to this session", nil)
	}

	allowed, reason, err := m.authz.Evaluate(ctx, AuthzRequest{
		Subject:  session.Subject,
		Action:   ActionSwitch,
		Resource: targetTenantID,
	})
	m.audit.Record(ctx, AuditEvent{
		At: time.Now(), SessionID: sessionID, Subject: session.Subject,
		Action: ActionSwitch, Resource: targetTenantID, Allowed: allowed, Reason: reason,
	})
	if err != nil {
		return gwerrors.New(gwerrors.KindInternal, "evaluating authorization: "+err.Error(), nil)
	}
	if !allowed {
		return gwerrors.New(gwerrors.KindForbidden, reason, nil)
	}

	m.mu.Lock()
	session.CurrentIndex = idx
	m.mu.Unlock()

	log.Info().Str("session_id", sessionID).Str("tenant_id", targetTenantID).Msg("tenant context switched")
	return nil
}

// GetClient resolves (sessionID, tenantID) to a per-call signed HTTP
// client bound to the tenant's credential bundle for the given
// environment, per spec §4.2. environment selects the one
// ("staging"/"production") the caller needs; clients are never cached
// across tenants.
func (m *ContextManager) GetClient(ctx context.Context, sessionID, tenantID, environment string) (*signing.Client, *signing.Bundle, error) {
	session, err := m.Authenticate(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.indexOf(tenantID) < 0 {
		return nil, nil, gwerrors.New(gwerrors.KindNotFound, "tenant not available to this session", nil)
	}

	allowed, reason, err := m.authz.Evaluate(ctx, AuthzRequest{
		Subject:  session.Subject,
		Action:   ActionUseCredentials,
		Resource: tenantID,
	})
	m.audit.Record(ctx, AuditEvent{
		At: time.Now(), SessionID: sessionID, Subject: session.Subject,
		Action: ActionUseCredentials, Resource: tenantID, Allowed: allowed, Reason: reason,
	})
	if err != nil {
		return nil, nil, gwerrors.New(gwerrors.KindInternal, "evaluating authorization: "+err.Error(), nil)
	}
	if !allowed {
		return nil, nil, gwerrors.New(gwerrors.KindForbidden, reason, nil)
	}

	bundle, err := m.store.Get(tenantID, environment)
	if err != nil {
		return nil, nil, err
	}
	return m.newClient(m.breakers), bundle, nil
}

// RotateCredentials authorizes and atomically swaps the credential
// bundle for (tenant, environment), then returns the cache-prefix to
// invalidate (spec §4.2: "flush all entries under the tenant's cache
// prefix"). The caller is responsible for actually invalidating the
// cache, since ContextManager has no cache dependency.
func (m *ContextManager) RotateCredentials(ctx context.Context, subject, tenant, environment string, bundle *signing.Bundle) (invalidatePrefix string, err error) {
	allowed, reason, err := m.authz.Evaluate(ctx, AuthzRequest{
		Subject: subject, Action: "rotate-credentials", Resource: tenant,
	})
	m.audit.Record(ctx, AuditEvent{
		At: time.Now(), SessionID: "", Subject: subject,
		Action: "rotate-credentials", Resource: tenant, Allowed: allowed, Reason: reason,
	})
	if err != nil {
		return "", gwerrors.New(gwerrors.KindInternal, "evaluating authorization: "+err.Error(), nil)
	}
	if !allowed {
		return "", gwerrors.New(gwerrors.KindForbidden, reason, nil)
	}
	if err := m.store.Rotate(tenant, environment, bundle); err != nil {
		return "", err
	}
	return CachePrefix(tenant), nil
}

// CachePrefix returns the cache key prefix owned by tenant, per spec
// §4.3's "<tenant-id>:" key convention.
func CachePrefix(tenant string) string {
	return tenant + ":"
}

// NewSessionID generates a fresh opaque session identifier.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
