package app

import (
	"context"
	"strings"

	"skyback/internal/config"
	"skyback/internal/eventbus"
	"skyback/pkg/logx"
)

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

// applyConfig hot-applies logging and scheduler changes. Other sections are reported as
// needing a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.sd.reloading()
	defer a.sd.ready()

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(next.LoggingRuntime())
		case "scheduler":
			a.applyScheduler(next)
		}
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(next *config.Config) {
	sc, err := next.SchedulerRuntime()
	if err == nil {
		err = a.sched.Apply(sc)
	}
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	switch enabled := next.SchedulerEnabled(); {
	case enabled && !a.sched.Running():
		a.log.Info("scheduler enabled via config")
		a.sched.Start()
	case !enabled && a.sched.Running():
		a.log.Info("scheduler disabled via config")
		a.sched.Stop()
	}
}
