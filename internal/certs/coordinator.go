package certs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgegate/gateway-core/internal/gwerrors"
)

// BackendClient is the subset of the signed CPS/PAPI client surface the
// coordinator drives. Implementations live behind internal/signing in
// production; tests supply a fake.
type BackendClient interface {
	InitiateDeployment(ctx context.Context, enrollmentID string, network Network) (deploymentID string, err error)
	DeploymentStatus(ctx context.Context, enrollmentID, deploymentID string) (backendStatus string, err error)
	LinkProperty(ctx context.Context, enrollmentID, propertyID string) (version int, err error)
	CancelDeployment(ctx context.Context, enrollmentID, deploymentID string) error
}

// pollInterval and pollBudget bound how long the coordinator waits on a
// single deployment before giving up and marking it failed, mirroring
// internal/purge's polling cadence (spec §4.5 "polling").
const (
	pollInterval = 10 * time.Second
	pollBudget   = 30 * time.Minute
)

// backendStatusMap translates the backend's deployment status strings
// into this package's Status, spec §4.5.
var backendStatusMap = map[string]Status{
	"active":      StatusDeployed,
	"pending":     StatusPending,
	"in-progress": StatusInProgress,
	"failed":      StatusFailed,
	"cancelled":   StatusRolledBack,
}

// progressForStatus is the mid-deployment progress heuristic, spec
// §4.5: the backend doesn't report a percentage, so the coordinator
// assigns one per observed status.
func progressForStatus(s Status) int {
	switch s {
	case StatusInitiated:
		return 25
	case StatusInProgress:
		return 75
	case StatusDeployed:
		return 100
	default:
		return 0
	}
}

// activeDeployment pairs a Deployment with the mutex serializing
// operations against it. Grounded on the teacher's
// internal/mcpserver/auth/broker.go RWMutex-guarded credential map,
// generalized here to one mutex per enrollment.
type activeDeployment struct {
	mu   sync.Mutex
	data *Deployment
}

// Coordinator drives certificate deployments end to end: initiation,
// status polling, optional property linking, and rollback. One
// Coordinator serves all tenants; callers are responsible for scoping
// enrollment IDs so they don't collide across tenants.
type Coordinator struct {
	client       BackendClient
	bus          *Bus
	log          zerolog.Logger
	mu           sync.Mutex
	active       map[string]*activeDeployment // enrollmentID -> deployment
	nowFunc      func() time.Time
	pollInterval time.Duration
	pollBudget   time.Duration
}

// NewCoordinator builds a Coordinator against client, publishing events
// on bus.
func NewCoordinator(client BackendClient, bus *Bus, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		client:       client,
		bus:          bus,
		active:       make(map[string]*activeDeployment),
		nowFunc:      time.Now,
		pollInterval: pollInterval,
		pollBudget:   pollBudget,
		log:          log.With().Str("component", "certs.Coordinator").Logger(),
	}
}

// WithPollTiming overrides the status-poll interval and budget; intended
// for tests that can't wait out the production cadence.
func (c *Coordinator) WithPollTiming(interval, budget time.Duration) *Coordinator {
	c.pollInterval = interval
	c.pollBudget = budget
	return c
}

// Get returns the current snapshot of an enrollment's deployment, if one
// is tracked.
func (c *Coordinator) Get(enrollmentID string) (Deployment, bool) {
	c.mu.Lock()
	ad, ok := c.active[enrollmentID]
	c.mu.Unlock()
	if !ok {
		return Deployment{}, false
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	return *ad.data, true
}

// admittedProgress is the progress value reported the instant a
// deployment is admitted, before the backend has acknowledged
// initiation, spec §8 scenario 5 ("started, progress(10), ...").
const admittedProgress = 10

// Deploy starts a deployment for enrollmentID to network, after
// confirming precondition is satisfied. autoLinkProperties, if
// non-empty, is linked automatically once the deployment reaches
// StatusDeployed. It returns a KindValidation error if the enrollment
// isn't ready, and a KindConflict error if a deployment for this
// enrollment is already active (spec §4.5: "no other active deployment
// exists for the same enrollment-id").
func (c *Coordinator) Deploy(ctx context.Context, enrollmentID string, network Network, precondition EnrollmentPrecondition, autoLinkProperties []string, linkMode LinkMode, rollbackOnFailure bool) (*Deployment, error) {
	if !precondition.satisfied() {
		return nil, gwerrors.New(gwerrors.KindValidation, "enrollment is not ready for deployment", nil)
	}

	ad, err := c.reserve(enrollmentID, network, autoLinkProperties, linkMode, rollbackOnFailure)
	if err != nil {
		return nil, err
	}

	started := *ad.data
	c.bus.Publish(Event{Type: EventDeploymentStarted, EnrollmentID: enrollmentID, Deployment: started})

	ad.mu.Lock()
	ad.data.Progress = admittedProgress
	admitted := *ad.data
	ad.mu.Unlock()
	c.bus.Publish(Event{Type: EventDeploymentProgress, EnrollmentID: enrollmentID, Deployment: admitted})

	deploymentID, err := c.client.InitiateDeployment(ctx, enrollmentID, network)
	if err != nil {
		ad.mu.Lock()
		ad.data.Status = StatusFailed
		ad.data.Errors = append(ad.data.Errors, err.Error())
		ad.data.EndedAt = c.nowFunc()
		snapshot := *ad.data
		ad.mu.Unlock()
		c.bus.Publish(Event{Type: EventDeploymentFailed, EnrollmentID: enrollmentID, Deployment: snapshot})
		return nil, gwerrors.New(gwerrors.KindUpstream, "initiate deployment: "+err.Error(), nil)
	}

	ad.mu.Lock()
	ad.data.DeploymentID = deploymentID
	ad.data.Status = StatusInitiated
	ad.data.Progress = progressForStatus(StatusInitiated)
	snapshot := *ad.data
	ad.mu.Unlock()

	c.bus.Publish(Event{Type: EventDeploymentProgress, EnrollmentID: enrollmentID, Deployment: snapshot})

	go c.poll(context.Background(), enrollmentID)

	return &snapshot, nil
}

func (c *Coordinator) reserve(enrollmentID string, network Network, autoLinkProperties []string, linkMode LinkMode, rollbackOnFailure bool) (*activeDeployment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.active[enrollmentID]; ok {
		existing.mu.Lock()
		status := existing.data.Status
		existing.mu.Unlock()
		if !isTerminalStatus(status) {
			return nil, gwerrors.New(gwerrors.KindConflict, "a deployment is already active for this enrollment", nil)
		}
	}

	ad := &activeDeployment{data: &Deployment{
		EnrollmentID:       enrollmentID,
		Network:            network,
		Status:             StatusPending,
		StartedAt:          c.nowFunc(),
		PropertyLinks:      make(map[string]*PropertyLink),
		AutoLinkProperties: autoLinkProperties,
		LinkMode:           linkMode,
		RollbackOnFailure:  rollbackOnFailure,
	}}
	c.active[enrollmentID] = ad
	return ad, nil
}

func isTerminalStatus(s Status) bool {
	switch s {
	case StatusDeployed, StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

// poll drives the status loop for one deployment until it reaches a
// terminal state or pollBudget elapses.
func (c *Coordinator) poll(ctx context.Context, enrollmentID string) {
	c.mu.Lock()
	ad, ok := c.active[enrollmentID]
	c.mu.Unlock()
	if !ok {
		return
	}

	deadline := c.nowFunc().Add(c.pollBudget)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ad.mu.Lock()
		deploymentID := ad.data.DeploymentID
		ad.mu.Unlock()

		backendStatus, err := c.client.DeploymentStatus(ctx, enrollmentID, deploymentID)
		if err != nil {
			c.log.Warn().Err(err).Str("enrollment_id", enrollmentID).Msg("deployment status poll failed")
			if c.nowFunc().After(deadline) {
				c.finishFailed(enrollmentID, "deployment status polling exceeded budget")
				return
			}
			continue
		}

		status, known := backendStatusMap[backendStatus]
		if !known {
			status = StatusInProgress
		}

		ad.mu.Lock()
		ad.data.Status = status
		ad.data.Progress = progressForStatus(status)
		snapshot := *ad.data
		ad.mu.Unlock()

		c.bus.Publish(Event{Type: EventDeploymentProgress, EnrollmentID: enrollmentID, Deployment: snapshot})

		if status == StatusDeployed {
			c.onDeployed(ctx, enrollmentID)
			return
		}
		if status == StatusFailed {
			c.finishFailed(enrollmentID, "backend reported deployment failed")
			return
		}
		if c.nowFunc().After(deadline) {
			c.finishFailed(enrollmentID, "deployment status polling exceeded budget")
			return
		}
	}
}

func (c *Coordinator) finishFailed(enrollmentID, reason string) {
	c.mu.Lock()
	ad, ok := c.active[enrollmentID]
	c.mu.Unlock()
	if !ok {
		return
	}

	ad.mu.Lock()
	ad.data.Status = StatusFailed
	ad.data.Errors = append(ad.data.Errors, reason)
	ad.data.EndedAt = c.nowFunc()
	rollbackOnFailure := ad.data.RollbackOnFailure
	deploymentID := ad.data.DeploymentID
	snapshot := *ad.data
	ad.mu.Unlock()

	c.bus.Publish(Event{Type: EventDeploymentFailed, EnrollmentID: enrollmentID, Deployment: snapshot})

	if rollbackOnFailure {
		if err := c.Rollback(context.Background(), enrollmentID, deploymentID); err != nil {
			c.log.Error().Err(err).Str("enrollment_id", enrollmentID).Msg("automatic rollback after failure did not complete")
		}
	}
}

func (c *Coordinator) onDeployed(ctx context.Context, enrollmentID string) {
	c.mu.Lock()
	ad, ok := c.active[enrollmentID]
	c.mu.Unlock()
	if !ok {
		return
	}

	ad.mu.Lock()
	ad.data.EndedAt = c.nowFunc()
	snapshot := *ad.data
	propertyIDs := ad.data.AutoLinkProperties
	ad.mu.Unlock()
	c.bus.Publish(Event{Type: EventDeploymentCompleted, EnrollmentID: enrollmentID, Deployment: snapshot})

	if len(propertyIDs) == 0 {
		return
	}
	if err := c.LinkProperties(ctx, enrollmentID, propertyIDs); err != nil {
		c.log.Error().Err(err).Str("enrollment_id", enrollmentID).Msg("automatic property linking did not complete")
	}
}

// LinkProperties links each of propertyIDs to enrollmentID's deployed
// certificate, sequentially or in parallel per the deployment's
// LinkMode. Progress is reported as 90% + 10%*completed/total, spec
// §4.5.
func (c *Coordinator) LinkProperties(ctx context.Context, enrollmentID string, propertyIDs []string) error {
	c.mu.Lock()
	ad, ok := c.active[enrollmentID]
	c.mu.Unlock()
	if !ok {
		return gwerrors.New(gwerrors.KindNotFound, "no deployment tracked for enrollment", nil)
	}

	ad.mu.Lock()
	mode := ad.data.LinkMode
	for _, pid := range propertyIDs {
		ad.data.PropertyLinks[pid] = &PropertyLink{PropertyID: pid, Status: LinkPending}
	}
	ad.mu.Unlock()

	total := len(propertyIDs)
	if total == 0 {
		return nil
	}

	link := func(pid string) {
		c.bus.Publish(Event{Type: EventPropertyLinking, EnrollmentID: enrollmentID, PropertyID: pid})

		ad.mu.Lock()
		ad.data.PropertyLinks[pid].Status = LinkLinking
		ad.mu.Unlock()

		version, err := c.client.LinkProperty(ctx, enrollmentID, pid)

		ad.mu.Lock()
		pl := ad.data.PropertyLinks[pid]
		if err != nil {
			pl.Status = LinkFailed
			pl.Error = err.Error()
		} else {
			pl.Status = LinkLinked
			pl.Version = version
		}
		completed := countLinked(ad.data.PropertyLinks)
		ad.data.Progress = 90 + (10 * completed / total)
		ad.mu.Unlock()

		c.bus.Publish(Event{Type: EventPropertyLinked, EnrollmentID: enrollmentID, PropertyID: pid})
	}

	if mode == LinkParallel {
		var wg sync.WaitGroup
		for _, pid := range propertyIDs {
			wg.Add(1)
			go func(pid string) {
				defer wg.Done()
				link(pid)
			}(pid)
		}
		wg.Wait()
	} else {
		for _, pid := range propertyIDs {
			link(pid)
		}
	}

	return nil
}

func countLinked(links map[string]*PropertyLink) int {
	n := 0
	for _, l := range links {
		if l.Status == LinkLinked || l.Status == LinkFailed {
			n++
		}
	}
	return n
}

// Rollback cancels deploymentID and transitions the enrollment's
// deployment to rolled-back. Property links already established are
// not reverted; this is a documented limitation (spec §4.5 "Non-goals"
// — property unlinking is out of scope).
func (c *Coordinator) Rollback(ctx context.Context, enrollmentID, deploymentID string) error {
	c.mu.Lock()
	ad, ok := c.active[enrollmentID]
	c.mu.Unlock()
	if !ok {
		return gwerrors.New(gwerrors.KindNotFound, "no deployment tracked for enrollment", nil)
	}

	c.bus.Publish(Event{Type: EventRollbackStarted, EnrollmentID: enrollmentID})

	if err := c.client.CancelDeployment(ctx, enrollmentID, deploymentID); err != nil {
		return gwerrors.New(gwerrors.KindUpstream, "cancel deployment: "+err.Error(), nil)
	}

	ad.mu.Lock()
	ad.data.Status = StatusRolledBack
	ad.data.EndedAt = c.nowFunc()
	snapshot := *ad.data
	ad.mu.Unlock()

	c.bus.Publish(Event{Type: EventRollbackCompleted, EnrollmentID: enrollmentID, Deployment: snapshot})
	return nil
}
