package events

import (
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/ultra-swap/internal/session"
)

// SessionObserver republishes session notifications on a bus.
type SessionObserver struct {
	bus    *Bus
	logger *zap.Logger
}

var _ session.Observer = (*SessionObserver)(nil)

// NewSessionObserver returns an observer that publishes to bus.
func NewSessionObserver(bus *Bus) *SessionObserver {
	return &SessionObserver{bus: bus, logger: bus.logger.Named("session-observer")}
}

// OnFormUpdate implements session.Observer.
func (o *SessionObserver) OnFormUpdate(form session.Form) {
	o.publish(FormUpdatedEvent{
		BaseEvent: BaseEvent{EventType: FormUpdated, EventTime: time.Now()},
		Form:      form,
	})
}

// OnScreenUpdate implements session.Observer.
func (o *SessionObserver) OnScreenUpdate(screen session.Screen) {
	o.publish(ScreenUpdatedEvent{
		BaseEvent: BaseEvent{EventType: ScreenUpdated, EventTime: time.Now()},
		Screen:    screen,
	})
}

func (o *SessionObserver) publish(event Event) {
	if err := o.bus.Publish(event); err != nil {
		o.logger.Warn("Session update not delivered",
			zap.String("event_type", string(event.Type())),
			zap.Error(err))
	}
}
