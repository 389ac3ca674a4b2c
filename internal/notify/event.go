// Package notify delivers the perform-backup signal to whoever executes backups.
package notify

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// EventPerformBackup is the only event the scheduler emits.
const EventPerformBackup = "perform-backup"

type Source string

const (
	SourceSchedule Source = "schedule"
	SourceManual   Source = "manual"
)

var (
	// ErrNoReceiver means the sink had nobody to hand the event to.
	ErrNoReceiver = errors.New("no receiver attached")
	// ErrThrottled means the sink refused the event because the previous one was too recent.
	ErrThrottled = errors.New("notification throttled")
	// ErrBusy means a previous backup is still running.
	ErrBusy = errors.New("backup executor busy")
)

// Event is the perform-backup envelope. Receivers may see an ID more than once.
type Event struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Source Source    `json:"source"`
	At     time.Time `json:"at"`
}

func NewEvent(src Source, at time.Time) Event {
	return Event{
		ID:     uuid.NewString(),
		Name:   EventPerformBackup,
		Source: src,
		At:     at,
	}
}

// Sink accepts a perform-backup event. A nil error means the event was handed off; it says
// nothing about whether the backup itself succeeded.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Completion reports that the executor finished a backup. Publish it as the Data of a
// backup-completed bus event; a zero At means the event time.
type Completion struct {
	EventID string    `json:"event_id,omitempty"`
	At      time.Time `json:"at"`
}
