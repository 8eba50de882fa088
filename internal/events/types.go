// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Lifecycle events
	PoolDetected       EventType = "pool.detected"
	PositionOpened     EventType = "position.opened"
	PositionAborted    EventType = "position.aborted"
	PositionClosed     EventType = "position.closed"
	ManualIntervention EventType = "position.manual_intervention"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event type with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// PoolDetectedEvent is emitted for every deduplicated detection.
type PoolDetectedEvent struct {
	BaseEvent
	Signature string
	Slot      uint64
}

// PositionOpenedEvent is emitted when an entry confirms.
type PositionOpenedEvent struct {
	BaseEvent
	Mint        string
	Pool        string
	EntrySig    string
	TokenAmount uint64
	LamportsIn  uint64
}

// PositionAbortedEvent is emitted when an entry fails or is rejected.
type PositionAbortedEvent struct {
	BaseEvent
	Mint   string
	Reason string
}

// PositionClosedEvent is emitted when an exit completes.
type PositionClosedEvent struct {
	BaseEvent
	Mint        string
	ExitSig     string
	ExitReason  string
	ExitVenue   string
	LamportsIn  uint64
	LamportsOut uint64
	HoldTime    time.Duration
}

// ManualInterventionEvent is emitted when every sell tier has failed
// and the position needs an operator.
type ManualInterventionEvent struct {
	BaseEvent
	Mint        string
	TokenAmount uint64
	LastError   string
}
