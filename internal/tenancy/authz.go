package tenancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

// Action names evaluated by an AuthzPredicate, per spec §4.2.
const (
	ActionSwitch        = "switch"
	ActionUseCredentials = "use-credentials"
)

// AuthzRequest is the tuple an AuthzPredicate evaluates:
// {subject, action, resource}.
type AuthzRequest struct {
	Subject  string
	Action   string
	Resource string // target tenant ID
}

// AuthzPredicate is the injected authorization rule spec §4.2 and §9's
// Open Questions leave as a pluggable decision point. Deny must carry a
// reason string (spec §4.2 failure semantics: "forbidden with reason
// string").
type AuthzPredicate interface {
	Evaluate(ctx context.Context, req AuthzRequest) (allow bool, reason string, err error)
}

// AllowAllPredicate permits every request. Suitable for single-tenant or
// smoke-test deployments, mirroring the teacher's
// validateTenantAuthorization fallback when no WorkOS client is
// configured (internal/auth/tenant_headers.go).
type AllowAllPredicate struct{}

func (AllowAllPredicate) Evaluate(ctx context.Context, req AuthzRequest) (bool, string, error) {
	return true, "", nil
}

// StaticPolicy maps a subject to the set of tenant IDs it may act on,
// for deployments with a fixed, out-of-band-managed membership table
// instead of a live B2B identity provider.
type StaticPolicy struct {
	mu           sync.RWMutex
	subjectTenants map[string]map[string]bool
}

// NewStaticPolicy builds a StaticPolicy from a subject -> tenant IDs map.
func NewStaticPolicy(grants map[string][]string) *StaticPolicy {
	p := &StaticPolicy{subjectTenants: make(map[string]map[string]bool)}
	for subject, tenants := range grants {
		set := make(map[string]bool, len(tenants))
		for _, t := range tenants {
			set[t] = true
		}
		p.subjectTenants[subject] = set
	}
	return p
}

func (p *StaticPolicy) Evaluate(ctx context.Context, req AuthzRequest) (bool, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.subjectTenants[req.Subject]
	if !ok || !set[req.Resource] {
		return false, fmt.Sprintf("subject %q has no static grant for tenant %q", req.Subject, req.Resource), nil
	}
	return true, "", nil
}

// Grant adds tenantID to subject's static grant set, used by admin
// tooling to provision access without a redeploy.
func (p *StaticPolicy) Grant(subject, tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.subjectTenants[subject]
	if !ok {
		set = make(map[string]bool)
		p.subjectTenants[subject] = set
	}
	set[tenantID] = true
}

// membershipCache caches a (subject, tenant) authorization result for a
// short TTL, adapted from the teacher's TenantAuthCache
// (internal/auth/tenant_headers.go) so repeated tool invocations in a
// session don't re-hit the WorkOS API on every call.
type membershipCache struct {
	mu    sync.RWMutex
	cache map[string]time.Time
	ttl   time.Duration
}

func newMembershipCache(ttl time.Duration) *membershipCache {
	c := &membershipCache{cache: make(map[string]time.Time), ttl: ttl}
	go c.cleanupLoop()
	return c
}

func (c *membershipCache) key(subject, tenant string) string {
	return subject + ":" + tenant
}

func (c *membershipCache) get(subject, tenant string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	expiry, ok := c.cache[c.key(subject, tenant)]
	return ok && time.Now().Before(expiry)
}

func (c *membershipCache) set(subject, tenant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[c.key(subject, tenant)] = time.Now().Add(c.ttl)
}

func (c *membershipCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for k, exp := range c.cache {
			if now.After(exp) {
				delete(c.cache, k)
			}
		}
		c.mu.Unlock()
	}
}

// WorkOSPredicate authorizes tenant switches/credential use via WorkOS
// organization membership, adapted from the teacher's
// validateTenantAuthorization (internal/auth/tenant_headers.go):
// resource (the target tenant ID) is treated as a WorkOS organization
// ID, and a subject is authorized if ListOrganizationMemberships
// returns a matching membership. A subject with no memberships at all is
// allowed the default tenant ID, matching the teacher's B2C fallback. A
// nil client allows every request without checking memberships.
type WorkOSPredicate struct {
	client          *usermanagement.Client
	cache           *membershipCache
	defaultTenantID string
}

// NewWorkOSPredicate builds a WorkOSPredicate. client may be nil for
// single-tenant/smoke-test deployments (see package doc on
// AllowAllPredicate for the fully-open alternative).
func NewWorkOSPredicate(client *usermanagement.Client, defaultTenantID string) *WorkOSPredicate {
	return &WorkOSPredicate{
		client:          client,
		cache:           newMembershipCache(5 * time.Minute),
		defaultTenantID: defaultTenantID,
	}
}

func (p *WorkOSPredicate) Evaluate(ctx context.Context, req AuthzRequest) (bool, string, error) {
	if p.cache.get(req.Subject, req.Resource) {
		return true, "", nil
	}

	if p.client == nil {
		log.Warn().Str("subject", req.Subject).Str("tenant_id", req.Resource).
			Msg("workos client not configured, allowing tenant access without B2B validation")
		p.cache.set(req.Subject, req.Resource)
		return true, "", nil
	}

	var memberships []usermanagement.OrganizationMembership
	var cursor string
	for {
		opts := usermanagement.ListOrganizationMembershipsOpts{UserID: req.Subject, Limit: 100}
		if cursor != "" {
			opts.After = cursor
		}
		page, err := p.client.ListOrganizationMemberships(ctx, opts)
		if err != nil {
			return false, "", fmt.Errorf("listing workos organization memberships: %w", err)
		}
		for _, m := range page.Data {
			if m.OrganizationID == req.Resource {
				p.cache.set(req.Subject, req.Resource)
				return true, "", nil
			}
		}
		memberships = append(memberships, page.Data...)
		if page.ListMetadata.After == "" {
			break
		}
		cursor = page.ListMetadata.After
	}

	if req.Resource == p.defaultTenantID && len(memberships) == 0 {
		p.cache.set(req.Subject, req.Resource)
		return true, "", nil
	}

	return false, fmt.Sprintf("subject %q is not a member of organization %q", req.Subject, req.Resource), nil
}
