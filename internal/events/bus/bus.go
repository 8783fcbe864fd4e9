// Package bus publishes pulse lifecycle events so external tooling can
// observe the engine without polling the API. NATS is used when configured;
// otherwise an in-process bus serves local subscribers.
package bus

import "context"

// Subjects for pulse lifecycle events.
const (
	SubjectPulseScheduled = "pulse.scheduled"
	SubjectPulseStarted   = "pulse.started"
	SubjectPulseCompleted = "pulse.completed"
	SubjectPulseFailed    = "pulse.failed"
	SubjectPulseRetry     = "pulse.retry"
)

// PulseEvent is the payload published on every lifecycle subject.
type PulseEvent struct {
	PulseID    int64  `json:"pulse_id"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	CreatedBy  string `json:"created_by"`
	RetryOf    int64  `json:"retry_of,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Handler receives decoded events for a subscribed subject.
type Handler func(subject string, event PulseEvent)

// EventBus is the minimal pub/sub surface the engine needs.
type EventBus interface {
	// Publish emits an event. Publish is best-effort: implementations log
	// failures but never block pulse processing on delivery.
	Publish(ctx context.Context, subject string, event PulseEvent)

	// Subscribe registers a handler for a subject. Returns an unsubscribe
	// function.
	Subscribe(subject string, handler Handler) (func(), error)

	IsConnected() bool
	Close() error
}

// New returns a NATS-backed bus when url is non-empty, otherwise the
// in-memory bus.
func New(url string) (EventBus, error) {
	if url == "" {
		return NewMemoryBus(), nil
	}
	return NewNATSBus(url)
}
