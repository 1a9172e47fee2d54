// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/ultra-swap/internal/session"
)

// EventType represents the type of event.
type EventType string

const (
	FormUpdated   EventType = "session.form_updated"
	ScreenUpdated EventType = "session.screen_updated"
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

// FormUpdatedEvent carries the swap form after a change.
type FormUpdatedEvent struct {
	BaseEvent
	Form session.Form
}

// ScreenUpdatedEvent carries the screen the session moved to.
type ScreenUpdatedEvent struct {
	BaseEvent
	Screen session.Screen
}
