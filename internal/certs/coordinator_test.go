package certs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgegate/gateway-core/internal/gwerrors"
)

type fakeBackend struct {
	mu           sync.Mutex
	statuses     []string // consumed in order by successive DeploymentStatus calls
	initiateErr  error
	linkErr      map[string]error
	cancelled    []string
	linkVersions map[string]int
}

func (f *fakeBackend) InitiateDeployment(ctx context.Context, enrollmentID string, network Network) (string, error) {
	if f.initiateErr != nil {
		return "", f.initiateErr
	}
	return "dep-" + enrollmentID, nil
}

func (f *fakeBackend) DeploymentStatus(ctx context.Context, enrollmentID, deploymentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return "active", nil
	}
	next := f.statuses[0]
	f.statuses = f.statuses[1:]
	return next, nil
}

func (f *fakeBackend) LinkProperty(ctx context.Context, enrollmentID, propertyID string) (int, error) {
	if f.linkErr != nil {
		if err, ok := f.linkErr[propertyID]; ok {
			return 0, err
		}
	}
	if f.linkVersions != nil {
		return f.linkVersions[propertyID], nil
	}
	return 1, nil
}

func (f *fakeBackend) CancelDeployment(ctx context.Context, enrollmentID, deploymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, deploymentID)
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func readUntil(t *testing.T, ch <-chan Event, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed before observing %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestDeployRejectsUnsatisfiedPrecondition(t *testing.T) {
	c := NewCoordinator(&fakeBackend{}, NewBus(), testLogger())
	_, err := c.Deploy(context.Background(), "enr-1", NetworkStaging, EnrollmentPrecondition{AllDomainsValidated: false}, nil, LinkSequential, false)
	ge, ok := err.(*gwerrors.Error)
	if !ok || ge.Kind != gwerrors.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeployHappyPathReachesDeployed(t *testing.T) {
	bus := NewBus()
	backend := &fakeBackend{statuses: []string{"in-progress", "active"}}
	c := NewCoordinator(backend, bus, testLogger()).WithPollTiming(10*time.Millisecond, time.Second)

	ch, unsubscribe := bus.Subscribe("enr-1", 16)
	defer unsubscribe()

	precondition := EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "active"}
	d, err := c.Deploy(context.Background(), "enr-1", NetworkProduction, precondition, nil, LinkSequential, false)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if d.Status != StatusInitiated {
		t.Fatalf("expected initiated immediately after Deploy, got %s", d.Status)
	}

	readUntil(t, ch, EventDeploymentStarted, time.Second)
	readUntil(t, ch, EventDeploymentCompleted, 2*time.Second)

	final, ok := c.Get("enr-1")
	if !ok || final.Status != StatusDeployed {
		t.Fatalf("expected deployed, got %+v ok=%v", final, ok)
	}
	if final.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", final.Progress)
	}
}

func TestDeployAutoLinksPropertiesOnceDeployed(t *testing.T) {
	bus := NewBus()
	backend := &fakeBackend{statuses: []string{"in-progress", "active"}, linkVersions: map[string]int{"p1": 1, "p2": 1}}
	c := NewCoordinator(backend, bus, testLogger()).WithPollTiming(10*time.Millisecond, time.Second)

	ch, unsubscribe := bus.Subscribe("enr-1", 32)
	defer unsubscribe()

	precondition := EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "active"}
	_, err := c.Deploy(context.Background(), "enr-1", NetworkStaging, precondition, []string{"p1", "p2"}, LinkSequential, false)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	readUntil(t, ch, EventDeploymentCompleted, 2*time.Second)
	readUntil(t, ch, EventPropertyLinked, time.Second)
	readUntil(t, ch, EventPropertyLinked, time.Second)

	final, ok := c.Get("enr-1")
	if !ok {
		t.Fatalf("expected deployment to be tracked")
	}
	if final.PropertyLinks["p1"].Status != LinkLinked || final.PropertyLinks["p2"].Status != LinkLinked {
		t.Fatalf("expected both properties auto-linked, got %+v", final.PropertyLinks)
	}
}

func TestDeployRejectsConcurrentActiveDeployment(t *testing.T) {
	bus := NewBus()
	backend := &fakeBackend{statuses: []string{"in-progress"}}
	c := NewCoordinator(backend, bus, testLogger()).WithPollTiming(50*time.Millisecond, time.Second)

	precondition := EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "active"}
	_, err := c.Deploy(context.Background(), "enr-1", NetworkStaging, precondition, nil, LinkSequential, false)
	if err != nil {
		t.Fatalf("first Deploy: %v", err)
	}

	_, err = c.Deploy(context.Background(), "enr-1", NetworkStaging, precondition, nil, LinkSequential, false)
	ge, ok := err.(*gwerrors.Error)
	if !ok || ge.Kind != gwerrors.KindConflict {
		t.Fatalf("expected conflict for concurrent deployment, got %v", err)
	}
}

func TestDeployFailureWithRollbackOnFailureCancels(t *testing.T) {
	bus := NewBus()
	backend := &fakeBackend{statuses: []string{"failed"}}
	c := NewCoordinator(backend, bus, testLogger()).WithPollTiming(10*time.Millisecond, time.Second)

	ch, unsubscribe := bus.Subscribe("enr-1", 16)
	defer unsubscribe()

	precondition := EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "active"}
	_, err := c.Deploy(context.Background(), "enr-1", NetworkStaging, precondition, nil, LinkSequential, true)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	readUntil(t, ch, EventDeploymentFailed, time.Second)
	readUntil(t, ch, EventRollbackCompleted, time.Second)

	final, ok := c.Get("enr-1")
	if !ok || final.Status != StatusRolledBack {
		t.Fatalf("expected rolled-back after auto rollback, got %+v", final)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.cancelled) != 1 {
		t.Fatalf("expected CancelDeployment called once, got %d", len(backend.cancelled))
	}
}

func TestLinkPropertiesSequentialReportsProgressAndCounts(t *testing.T) {
	bus := NewBus()
	backend := &fakeBackend{linkVersions: map[string]int{"p1": 3, "p2": 4}}
	c := NewCoordinator(backend, bus, testLogger())

	precondition := EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "active"}
	_, err := c.Deploy(context.Background(), "enr-1", NetworkStaging, precondition, nil, LinkSequential, false)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if err := c.LinkProperties(context.Background(), "enr-1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("LinkProperties: %v", err)
	}

	d, ok := c.Get("enr-1")
	if !ok {
		t.Fatalf("expected deployment to be tracked")
	}
	if d.Progress != 100 {
		t.Fatalf("expected progress 100 after all links complete, got %d", d.Progress)
	}
	if d.PropertyLinks["p1"].Status != LinkLinked || d.PropertyLinks["p1"].Version != 3 {
		t.Fatalf("expected p1 linked at version 3, got %+v", d.PropertyLinks["p1"])
	}
	if d.PropertyLinks["p2"].Status != LinkLinked || d.PropertyLinks["p2"].Version != 4 {
		t.Fatalf("expected p2 linked at version 4, got %+v", d.PropertyLinks["p2"])
	}
}

func TestLinkPropertiesRecordsPerPropertyFailure(t *testing.T) {
	bus := NewBus()
	backend := &fakeBackend{linkErr: map[string]error{"p2": context.DeadlineExceeded}}
	c := NewCoordinator(backend, bus, testLogger())

	precondition := EnrollmentPrecondition{AllDomainsValidated: true, EnrollmentStatus: "active"}
	if _, err := c.Deploy(context.Background(), "enr-1", NetworkStaging, precondition, nil, LinkParallel, false); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if err := c.LinkProperties(context.Background(), "enr-1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("LinkProperties: %v", err)
	}

	d, _ := c.Get("enr-1")
	if d.PropertyLinks["p1"].Status != LinkLinked {
		t.Fatalf("expected p1 linked, got %+v", d.PropertyLinks["p1"])
	}
	if d.PropertyLinks["p2"].Status != LinkFailed {
		t.Fatalf("expected p2 failed, got %+v", d.PropertyLinks["p2"])
	}
}

func TestRollbackUnknownEnrollmentIsNotFound(t *testing.T) {
	c := NewCoordinator(&fakeBackend{}, NewBus(), testLogger())
	err := c.Rollback(context.Background(), "missing", "dep-1")
	ge, ok := err.(*gwerrors.Error)
	if !ok || ge.Kind != gwerrors.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
