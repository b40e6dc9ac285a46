package certs

import "sync"

// EventType names one of spec §4.5's ordered event kinds.
type EventType string

const (
	EventDeploymentStarted   EventType = "deployment:started"
	EventDeploymentProgress  EventType = "deployment:progress"
	EventDeploymentCompleted EventType = "deployment:completed"
	EventDeploymentFailed    EventType = "deployment:failed"
	EventPropertyLinking     EventType = "property:linking"
	EventPropertyLinked      EventType = "property:linked"
	EventRollbackStarted     EventType = "rollback:started"
	EventRollbackCompleted   EventType = "rollback:completed"
)

// Event is one emission on an enrollment's event stream, spec §4.5.
type Event struct {
	Type         EventType
	EnrollmentID string
	Deployment   Deployment
	PropertyID   string // set for property:* events
}

// subscriber is one listener's buffered channel. Delivery is best-effort
// per spec §4.5 ("event delivery is best-effort"): a full channel drops
// the event rather than blocking the emitter.
type subscriber struct {
	ch chan Event
}

// Bus is a per-enrollment-ordered event bus: events for a given
// enrollment are delivered to each subscriber in emission order, but
// ordering across different enrollments is not guaranteed, per spec
// §4.5 ("ordered per enrollment only"). Grounded on the teacher's
// SSEStream (internal/mcpserver/server/sse.go) for the buffered,
// one-writer-per-reader channel shape, generalized from one session to
// many subscribers per enrollment.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]*subscriber // enrollmentID -> subscribers
}

// NewBus builds an empty event Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]*subscriber)}
}

// Subscribe returns a channel receiving every event for enrollmentID
// from this point forward, and an unsubscribe function the caller must
// invoke when done listening.
func (b *Bus) Subscribe(enrollmentID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subscribers[enrollmentID] = append(b.subscribers[enrollmentID], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[enrollmentID]
		for i, s := range subs {
			if s == sub {
				b.subscribers[enrollmentID] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish emits event to every current subscriber of its EnrollmentID.
// A subscriber whose buffer is full has the event dropped for it (never
// blocks the publisher), matching the spec's best-effort delivery.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subscribers[event.EnrollmentID]...)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
		}
	}
}
