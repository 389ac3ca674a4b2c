package notify

import (
	"context"
	"time"

	"skyback/internal/eventbus"
)

// BusSink publishes events on the in-process bus for host components subscribed to
// perform-backup.
type BusSink struct {
	Bus eventbus.Bus
}

func (s BusSink) Notify(ctx context.Context, ev Event) error {
	_ = ctx
	if s.Bus == nil || s.Bus.Receivers(eventbus.TypePerformBackup) == 0 {
		return ErrNoReceiver
	}
	s.Bus.Publish(eventbus.Event{Type: eventbus.TypePerformBackup, Time: ev.At, Data: ev})
	return nil
}

// PublishCompletion announces a finished backup on bus.
func PublishCompletion(bus eventbus.Bus, c Completion) {
	if bus == nil {
		return
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}
	bus.Publish(eventbus.Event{Type: eventbus.TypeBackupCompleted, Time: c.At, Data: c})
}

// CompletionFrom extracts a Completion from a backup-completed event. Unknown payloads fall
// back to the event time.
func CompletionFrom(e eventbus.Event) Completion {
	var c Completion
	switch d := e.Data.(type) {
	case Completion:
		c = d
	case *Completion:
		if d != nil {
			c = *d
		}
	case Event:
		c = Completion{EventID: d.ID}
	}
	if c.At.IsZero() {
		c.At = e.Time
	}
	return c
}
