package session

import (
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/shared"
)

// Session lifecycle event types.
const (
	EventStarted   shared.EventType = "session.started"
	EventPaused    shared.EventType = "session.paused"
	EventResumed   shared.EventType = "session.resumed"
	EventCompleted shared.EventType = "session.completed"
	EventCancelled shared.EventType = "session.cancelled"
)

// EndReason explains why a session left the registry.
type EndReason string

const (
	ReasonCompleted  EndReason = "completed"
	ReasonStopped    EndReason = "stopped"
	ReasonSuperseded EndReason = "superseded"
	ReasonShutdown   EndReason = "shutdown"

	// ReasonExpired ends a stopwatch left running past its maximum age.
	ReasonExpired EndReason = "expired"
)

// LifecycleEvent carries the session snapshot taken at the transition.
type LifecycleEvent struct {
	shared.BaseEvent
	Session Snapshot  `json:"session"`
	Reason  EndReason `json:"reason,omitempty"`
}

// NewLifecycleEvent builds an event for snap; reason is empty for non-terminal transitions.
func NewLifecycleEvent(eventType shared.EventType, snap Snapshot, reason EndReason, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		BaseEvent: shared.NewBaseEvent(eventType, snap.ID, at),
		Session:   snap,
		Reason:    reason,
	}
}

// PartitionKey orders an owner's events together, across supersessions.
func (e LifecycleEvent) PartitionKey() string {
	return string(e.Session.Owner)
}
