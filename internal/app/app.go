// Package app wires the daemon: config, logging, settings store, sinks, scheduler, remote
// control and systemd integration.
package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"skyback/internal/config"
	"skyback/internal/eventbus"
	"skyback/internal/notify"
	rtsup "skyback/internal/runtime/supervisor"
	"skyback/internal/scheduler"
	"skyback/internal/settings"
	"skyback/internal/transport/telegram"
	"skyback/pkg/logx"
)

type App struct {
	cfgm     *config.Manager
	cfgFound bool

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	store    settings.Store
	settings *settings.Manager
	sched    *scheduler.Scheduler
	command  *notify.CommandSink
	tg       *telegram.Bot
	sd       *systemdNotifier

	sup *rtsup.Supervisor
}

type Option func(*App)

// WithClock replaces time.Now for the scheduler and completion timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// New loads the config at cfgPath (a missing file means defaults) and builds every component.
// Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, found, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", cfgm.Path())
	}

	logs, log := logx.New(cfg.LoggingRuntime())
	cfgm.SetLogger(log)

	a := &App{
		cfgm:     cfgm,
		cfgFound: found,
		logs:     logs,
		log:      log.With(logx.String("comp", "app")),
		bus:      eventbus.New(),
		now:      time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	if !found {
		a.log.Info("config file not found; using defaults", logx.String("path", cfgm.Path()))
	}

	if err := a.build(cfg, log); err != nil {
		a.closeStore()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	sc, err := cfg.SettingsRuntime()
	if err != nil {
		return err
	}
	store, err := settings.Open(sc, log.With(logx.String("comp", "settings.store")))
	if err != nil {
		return errors.Wrap(err, "open settings store")
	}
	a.store = store
	a.settings = settings.NewManager(store, sc.Key, log)

	if cfg.TelegramEnabled() {
		poll, err := cfg.TelegramPollTimeout()
		if err != nil {
			return err
		}
		tg, err := telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
			ChatID:       cfg.Telegram.ChatID,
			ThreadID:     cfg.Telegram.ThreadID,
			PollTimeout:  poll,
		}, a, log)
		if err != nil {
			return err
		}
		a.tg = tg
	}

	sink, err := a.buildSink(cfg, log)
	if err != nil {
		return err
	}

	schedCfg, err := cfg.SchedulerRuntime()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(schedCfg, a.settings, sink, log,
		scheduler.WithClock(a.now),
		scheduler.WithBus(a.bus),
	)
	if err != nil {
		return err
	}
	a.sched = sched
	a.sd = newSystemdNotifier(cfg.Systemd, log)
	return nil
}

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Settings() *settings.Manager { return a.settings }

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

// BackupNow emits a manual perform-backup through the configured sinks.
func (a *App) BackupNow(ctx context.Context) (notify.Event, error) {
	return a.sched.BackupNow(ctx)
}

func (a *App) Report(ctx context.Context) (scheduler.Report, error) {
	return a.sched.Report(ctx)
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return c.Validate() })

	a.startCompletionListener()
	a.startEventLog()

	if a.tg != nil {
		if err := a.tg.Start(a.sup.Context()); err != nil {
			return errors.Wrap(err, "start telegram")
		}
	}

	if cfg.SchedulerEnabled() {
		a.sched.Start()
	} else {
		a.log.Info("scheduler disabled by config")
	}

	a.startConfigReload()
	if a.cfgFound {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.sd.ready()
	a.sup.Go0("systemd.watchdog", a.sd.runWatchdog)

	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.Bool("scheduler", cfg.SchedulerEnabled()),
		logx.Bool("telegram", a.tg != nil),
	)
	return nil
}

// startCompletionListener records lastBackupDate for every backup-completed event.
func (a *App) startCompletionListener() {
	ch, unsub := a.bus.Subscribe(16, eventbus.TypeBackupCompleted)
	a.sup.Go0("backup.completed", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				c := notify.CompletionFrom(e)
				if err := a.settings.MarkBackup(ctx, c.At); err != nil {
					a.log.Error("record backup completion failed", logx.String("event_id", c.EventID), logx.Err(err))
					continue
				}
				a.log.Info("backup completed", logx.String("event_id", c.EventID), logx.Time("at", c.At))
			}
		}
	})
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("eventbus.log", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// BackupCompleted lets an embedding host report completion without going through the bus.
func (a *App) BackupCompleted(eventID string) {
	notify.PublishCompletion(a.bus, notify.Completion{EventID: eventID, At: a.now()})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error {
		a.sched.Stop()
		return a.sched.Wait(c)
	})
	a.step(ctx, "telegram", 3*time.Second, func(c context.Context) error {
		if a.tg == nil {
			return nil
		}
		return a.tg.Stop(c)
	})
	a.step(ctx, "command", 5*time.Second, func(c context.Context) error {
		if a.command == nil {
			return nil
		}
		return a.command.Close(c)
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	for _, st := range a.sup.Stats() {
		if st.Restarts > 0 || st.Panics > 0 || st.LastErr != "" {
			a.log.Info("task summary",
				logx.String("name", st.Name),
				logx.Uint64("restarts", st.Restarts),
				logx.Uint64("panics", st.Panics),
				logx.String("last_err", st.LastErr),
			)
		}
	}
	a.step(ctx, "settings", time.Second, func(context.Context) error {
		a.closeStore()
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max. A step that overruns is left behind and its
// late completion is logged.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close settings store", logx.Err(err))
	}
	a.store = nil
}

// Close releases resources of an App that was never started (CLI use).
func (a *App) Close(ctx context.Context) error {
	if a.sup != nil {
		return a.Stop(ctx, StopAppStop)
	}
	if a.command != nil {
		if err := a.command.Close(ctx); err != nil {
			a.log.Warn("command sink close", logx.Err(err))
		}
	}
	return a.Stop(ctx, StopAppStop)
}
