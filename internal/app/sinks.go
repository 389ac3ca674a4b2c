package app

import (
	"context"

	"skyback/internal/config"
	"skyback/internal/notify"
	"skyback/pkg/logx"
)

// buildSink assembles the perform-backup fanout from config. Sinks are fixed for the life of
// the process; changing them needs a restart.
func (a *App) buildSink(cfg *config.Config, log logx.Logger) (notify.Sink, error) {
	var sinks []notify.Named
	if cfg.BusEnabled() {
		sinks = append(sinks, notify.Named{Name: "bus", Sink: notify.BusSink{Bus: a.bus}})
	}

	cc, err := cfg.CommandRuntime()
	if err != nil {
		return nil, err
	}
	if cc != nil {
		report := cfg.Notify.Command.ReportCompletion
		cs, err := notify.NewCommandSink(*cc, log, notify.WithCompletion(func(ev notify.Event, err error) {
			if err != nil || !report {
				return
			}
			notify.PublishCompletion(a.bus, notify.Completion{EventID: ev.ID, At: a.now()})
		}))
		if err != nil {
			return nil, err
		}
		a.command = cs
		sinks = append(sinks, notify.Named{Name: "command", Sink: cs})
	}

	if a.tg != nil && cfg.Telegram.Sink {
		sinks = append(sinks, notify.Named{Name: "telegram", Sink: a.tg.Sink()})
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name)
	}
	a.log.Debug("perform-backup sinks", logx.Any("sinks", names))
	return notify.Fanout(log, sinks...), nil
}

// WaitExecutor blocks until a running backup command exits. It returns at once when no
// command sink is configured.
func (a *App) WaitExecutor(ctx context.Context) error {
	if a.command == nil {
		return nil
	}
	return a.command.Wait(ctx)
}
