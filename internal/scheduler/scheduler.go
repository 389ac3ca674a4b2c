package scheduler

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"skyback/internal/eventbus"
	"skyback/internal/notify"
	"skyback/internal/policy"
	"skyback/internal/settings"
	"skyback/pkg/logx"
)

type Scheduler struct {
	mgr  *settings.Manager
	sink notify.Sink
	log  logx.Logger
	now  func() time.Time
	bus  eventbus.Bus

	cfgMu      sync.RWMutex
	cfg        Config
	cadence    Cadence
	loc        *time.Location
	cadenceVer uint64

	// running is the run flag; gen identifies the loop allowed to act on it.
	running atomic.Bool
	gen     atomic.Uint64
	active  atomic.Int32
	loops   sync.WaitGroup
	wake    chan struct{}

	// evalMu keeps evaluation cycles strictly sequential.
	evalMu sync.Mutex

	cycles   atomic.Uint64
	notified atomic.Uint64
	failures atomic.Uint64
	manual   atomic.Uint64

	statMu    sync.Mutex
	lastCycle time.Time
	lastErr   string
	nextCheck time.Time
	history   []HistoryItem
}

type Option func(*Scheduler)

// WithClock replaces time.Now. Timers still use real time.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBus publishes scheduler.started and scheduler.stopped on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// New builds a stopped scheduler.
func New(cfg Config, mgr *settings.Manager, sink notify.Sink, log logx.Logger, opts ...Option) (*Scheduler, error) {
	if mgr == nil {
		return nil, errors.New("scheduler: settings manager is required")
	}
	if sink == nil {
		return nil, errors.New("scheduler: notification sink is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	cad, loc, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		mgr:     mgr,
		sink:    sink,
		log:     log.With(logx.String("comp", "scheduler")),
		now:     time.Now,
		cfg:     cfg,
		cadence: cad,
		loc:     loc,
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s, nil
}

func resolve(cfg Config) (Cadence, *time.Location, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Cadence{}, nil, errors.Wrapf(err, "scheduler.timezone %q", tz)
		}
		loc = l
	}
	cad, err := ParseCadence(cfg.Check, loc)
	if err != nil {
		return Cadence{}, nil, errors.Wrap(err, "scheduler.check")
	}
	return cad, loc, nil
}

// Apply swaps the cadence, poll interval and timeouts. A running loop picks them up at its
// next wake.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	cad, loc, err := resolve(cfg)
	if err != nil {
		return err
	}
	s.cfgMu.Lock()
	changed := s.cfg.Check != cfg.Check || s.cfg.Timezone != cfg.Timezone
	s.cfg = cfg
	s.cadence = cad
	s.loc = loc
	if changed {
		s.cadenceVer++
	}
	s.cfgMu.Unlock()

	s.statMu.Lock()
	if len(s.history) > cfg.HistorySize {
		s.history = append([]HistoryItem(nil), s.history[len(s.history)-cfg.HistorySize:]...)
	}
	s.statMu.Unlock()

	s.poke()
	s.log.Info("scheduler config applied",
		logx.String("check", cfg.Check),
		logx.Duration("poll", cfg.PollInterval),
		logx.Bool("cadence_changed", changed),
	)
	return nil
}

func (s *Scheduler) config() (Config, Cadence, uint64) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg, s.cadence, s.cadenceVer
}

// Start spawns the loop if the scheduler is stopped. It returns false, doing nothing, when
// already running.
func (s *Scheduler) Start() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	gen := s.gen.Add(1)
	s.active.Add(1)
	s.loops.Add(1)
	go s.loop(gen)

	s.publish(eventbus.TypeSchedulerStarted)
	return true
}

// Stop clears the run flag. The loop exits at its next wake; an evaluation in progress
// completes. It returns false when already stopped.
func (s *Scheduler) Stop() bool {
	if !s.running.CompareAndSwap(true, false) {
		return false
	}
	// Retire the stopped loop now, not at the next Start.
	s.gen.Add(1)
	s.poke()
	s.publish(eventbus.TypeSchedulerStopped)
	return true
}

func (s *Scheduler) Running() bool { return s.running.Load() }

// Wait blocks until every loop goroutine exited or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) publish(typ string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now()})
}

func (s *Scheduler) current(gen uint64) bool {
	return s.running.Load() && s.gen.Load() == gen
}

func (s *Scheduler) loop(gen uint64) {
	defer s.loops.Done()
	defer s.active.Add(-1)

	cfg, cad, ver := s.config()
	log := s.log.With(logx.Uint64("loop", gen))
	log.Info("scheduler loop started", logx.String("check", cfg.Check), logx.Duration("poll", cfg.PollInterval))
	defer log.Info("scheduler loop exited")

	next := s.now()
	if !cfg.CheckOnStart {
		next = cad.Next(next)
	}
	s.setNextCheck(next)

	timer := time.NewTimer(cfg.PollInterval)
	defer timer.Stop()

	for {
		if !s.current(gen) {
			return
		}

		var curVer uint64
		cfg, cad, curVer = s.config()
		if curVer != ver {
			ver = curVer
			next = cad.Next(s.now())
			s.setNextCheck(next)
		}

		if !s.now().Before(next) {
			s.tick(gen)
			next = cad.Next(s.now())
			s.setNextCheck(next)
		}

		wait := cfg.PollInterval
		if until := next.Sub(s.now()); until < wait {
			wait = until
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// tick runs one loop-owned cycle unless this loop was superseded while waiting for evalMu.
func (s *Scheduler) tick(gen uint64) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	if !s.current(gen) {
		return
	}
	c, err := s.evaluate(context.Background())
	s.record(c, err)
	if err != nil {
		s.log.Warn("evaluation cycle failed; retrying next cycle", logx.Err(err))
	}
}

// RunCycle evaluates once, independent of the loop. Cycles never overlap.
func (s *Scheduler) RunCycle(ctx context.Context) (Cycle, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	c, err := s.evaluate(ctx)
	s.record(c, err)
	return c, err
}

func (s *Scheduler) evaluate(ctx context.Context) (c Cycle, err error) {
	now := s.now()
	c.At = now
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("evaluation cycle panic",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = errors.Newf("evaluation cycle panic: %v", r)
		}
		c.Took = time.Since(start)
	}()

	cfg, _, _ := s.config()
	cctx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout)
	defer cancel()

	doc, found, err := s.mgr.Load(cctx)
	if err != nil {
		return c, errors.Wrap(err, "load settings")
	}
	c.Found = found

	res, perr := policy.Check(doc, now)
	c.Result = res
	if perr != nil {
		c.Warning = perr
		s.log.Error("lastBackupDate unparseable; treating as not due", logx.Err(perr))
		return c, nil
	}
	if !res.FrequencyKnown {
		s.log.Warn("unknown backup frequency; using daily", logx.String("frequency", doc.Frequency))
	}
	if !res.Due {
		s.log.Debug("backup not due",
			logx.String("frequency", res.Frequency.String()),
			logx.Time("next_due", res.NextDue),
		)
		return c, nil
	}

	ev := notify.NewEvent(notify.SourceSchedule, now)
	c.EventID = ev.ID
	if err := s.sink.Notify(cctx, ev); err != nil {
		return c, errors.Wrap(err, "deliver perform-backup")
	}
	c.Notified = true
	s.log.Info("perform-backup emitted",
		logx.String("event_id", ev.ID),
		logx.String("frequency", res.Frequency.String()),
		logx.Duration("elapsed", res.Elapsed),
	)

	if err := s.mgr.MarkBackup(cctx, now); err != nil {
		return c, errors.Wrap(err, "record lastBackupDate")
	}
	c.Marked = true
	return c, nil
}

// BackupNow emits perform-backup immediately. It works whether or not the loop runs and does
// not change lastBackupDate; the executor reports completion itself.
func (s *Scheduler) BackupNow(ctx context.Context) (notify.Event, error) {
	ev := notify.NewEvent(notify.SourceManual, s.now())
	s.manual.Add(1)
	if err := s.sink.Notify(ctx, ev); err != nil {
		s.log.Warn("manual backup delivery failed", logx.String("event_id", ev.ID), logx.Err(err))
		return ev, errors.Wrap(err, "deliver perform-backup")
	}
	s.log.Info("manual perform-backup emitted", logx.String("event_id", ev.ID))
	return ev, nil
}

func (s *Scheduler) record(c Cycle, err error) {
	s.cycles.Add(1)
	if c.Notified {
		s.notified.Add(1)
	}
	if err != nil {
		s.failures.Add(1)
	}
	cfg, _, _ := s.config()

	item := HistoryItem{
		At:       c.At,
		Due:      c.Result.Due,
		Notified: c.Notified,
		Marked:   c.Marked,
		EventID:  c.EventID,
		Duration: c.Took,
	}
	if err != nil {
		item.Error = err.Error()
	} else if c.Warning != nil {
		item.Error = c.Warning.Error()
	}

	s.statMu.Lock()
	defer s.statMu.Unlock()
	s.lastCycle = c.At
	s.lastErr = item.Error
	s.history = append(s.history, item)
	if over := len(s.history) - cfg.HistorySize; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
	s.log.Debug("evaluation cycle finished",
		logx.Bool("due", c.Result.Due),
		logx.Bool("notified", c.Notified),
		logx.Bool("marked", c.Marked),
		logx.Duration("took", c.Took),
	)
}

func (s *Scheduler) setNextCheck(t time.Time) {
	s.statMu.Lock()
	s.nextCheck = t
	s.statMu.Unlock()
}

// Snapshot is safe to call at any time.
func (s *Scheduler) Snapshot() Snapshot {
	s.cfgMu.RLock()
	cfg := s.cfg
	tz := s.loc.String()
	s.cfgMu.RUnlock()

	s.statMu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	snap := Snapshot{
		LastCycle: s.lastCycle,
		LastError: s.lastErr,
		NextCheck: s.nextCheck,
		History:   hist,
	}
	s.statMu.Unlock()

	snap.Running = s.running.Load()
	snap.ActiveLoops = int(s.active.Load())
	snap.Check = cfg.Check
	snap.Poll = cfg.PollInterval
	snap.Timezone = tz
	snap.Cycles = s.cycles.Load()
	snap.Notifications = s.notified.Load()
	snap.Failures = s.failures.Load()
	snap.Manual = s.manual.Load()
	if !snap.Running {
		snap.NextCheck = time.Time{}
	}
	return snap
}

// Report loads and evaluates the settings without emitting or persisting anything.
func (s *Scheduler) Report(ctx context.Context) (Report, error) {
	r := Report{At: s.now(), Scheduler: s.Snapshot()}
	doc, found, err := s.mgr.Load(ctx)
	if err != nil {
		return r, errors.Wrap(err, "load settings")
	}
	r.Found = found
	r.Document = doc
	r.Result, r.Warning = policy.Check(doc, r.At)
	return r, nil
}
