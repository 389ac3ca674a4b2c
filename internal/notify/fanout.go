package notify

import (
	"context"

	"github.com/cockroachdb/errors"

	"skyback/pkg/logx"
)

// Named attaches a name to a sink for logging.
type Named struct {
	Name string
	Sink Sink
}

type fanout struct {
	log   logx.Logger
	sinks []Named
}

// Fanout delivers to every sink in order. It succeeds when at least one sink accepted the
// event; each failure is logged. With no sinks it returns ErrNoReceiver.
func Fanout(log logx.Logger, sinks ...Named) Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	out := make([]Named, 0, len(sinks))
	for _, s := range sinks {
		if s.Sink != nil {
			out = append(out, s)
		}
	}
	return &fanout{log: log.With(logx.String("comp", "notify")), sinks: out}
}

func (f *fanout) Notify(ctx context.Context, ev Event) error {
	if len(f.sinks) == 0 {
		return ErrNoReceiver
	}
	var errs []error
	accepted := 0
	for _, s := range f.sinks {
		if err := s.Sink.Notify(ctx, ev); err != nil {
			f.log.Warn("sink rejected event",
				logx.String("sink", s.Name),
				logx.String("event_id", ev.ID),
				logx.Err(err),
			)
			errs = append(errs, errors.Wrapf(err, "sink %s", s.Name))
			continue
		}
		accepted++
		f.log.Debug("sink accepted event", logx.String("sink", s.Name), logx.String("event_id", ev.ID))
	}
	if accepted > 0 {
		return nil
	}
	// Join keeps every sink error visible to errors.Is, e.g. ErrNoReceiver from a later sink.
	return errors.Join(errs...)
}
