package dispatch

import (
	"github.com/edgegate/gateway-core/internal/cache"
	"github.com/edgegate/gateway-core/internal/certs"
	"github.com/edgegate/gateway-core/internal/purge"
	"github.com/edgegate/gateway-core/internal/tenancy"
)

// Subsystems bundles the gateway components tool handlers are wired
// against. One Subsystems is shared by every session.
type Subsystems struct {
	Tenancy *tenancy.ContextManager
	Cache   *cache.Cache
	Purge   *purge.Queue
	Limiter *purge.DualLimiter
	Tracker *purge.Tracker
	Certs   *certs.Coordinator
	Events  *certs.Bus
}
