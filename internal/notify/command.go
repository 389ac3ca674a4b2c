package notify

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"skyback/pkg/logx"
)

const (
	defaultCommandTimeout = 2 * time.Hour
	maxCapturedOutput     = 4 << 10
	killWaitDelay         = time.Second
)

type CommandConfig struct {
	Path        string
	Args        []string
	Dir         string
	Env         []string // extra KEY=VALUE pairs
	Timeout     time.Duration
	MinInterval time.Duration // 0 disables throttling
}

// CommandSink hands events to an external executor process.
//
// Notify returns once the process started; the exit status is reported to the completion
// callback. Only one process runs at a time.
type CommandSink struct {
	cfg     CommandConfig
	log     logx.Logger
	limiter *rate.Limiter
	onDone  func(ev Event, err error)

	running atomic.Bool
	wg      sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

type CommandOption func(*CommandSink)

// WithCompletion registers fn to run after every process exit. err is nil on exit status 0.
func WithCompletion(fn func(ev Event, err error)) CommandOption {
	return func(s *CommandSink) { s.onDone = fn }
}

func NewCommandSink(cfg CommandConfig, log logx.Logger, opts ...CommandOption) (*CommandSink, error) {
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		return nil, errors.New("notify.command.path is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &CommandSink{
		cfg: cfg,
		log: log.With(logx.String("comp", "notify.command"), logx.String("path", cfg.Path)),
	}
	if cfg.MinInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s, nil
}

// Busy reports whether an executor process is running.
func (s *CommandSink) Busy() bool { return s.running.Load() }

func (s *CommandSink) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.running.Store(false)
		return ErrThrottled
	}

	// The process outlives the caller's context; only the timeout and Close bound it.
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	cmd := exec.CommandContext(runCtx, s.cfg.Path, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.WaitDelay = killWaitDelay
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env,
		"SKYBACK_EVENT_ID="+ev.ID,
		"SKYBACK_EVENT_SOURCE="+string(ev.Source),
		"SKYBACK_EVENT_AT="+ev.At.UTC().Format(time.RFC3339Nano),
	)
	out := &tailBuffer{max: maxCapturedOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		cancel()
		s.running.Store(false)
		return errors.Wrapf(err, "start %s", s.cfg.Path)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Info("backup executor started",
		logx.String("event_id", ev.ID),
		logx.String("source", string(ev.Source)),
		logx.Int("pid", cmd.Process.Pid),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		err := cmd.Wait()
		if runCtx.Err() == context.DeadlineExceeded {
			err = errors.Wrapf(runCtx.Err(), "executor exceeded %s", s.cfg.Timeout)
		}
		cancel()

		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		s.running.Store(false)

		fields := []logx.Field{
			logx.String("event_id", ev.ID),
			logx.Duration("took", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, logx.Err(err), logx.String("output", out.String()))
			s.log.Warn("backup executor failed", fields...)
		} else {
			s.log.Info("backup executor finished", fields...)
		}
		if s.onDone != nil {
			s.onDone(ev, err)
		}
	}()
	return nil
}

// Close kills a running executor and waits for its goroutine, bounded by ctx.
func (s *CommandSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return s.Wait(ctx)
}

// Wait blocks until no executor is running, bounded by ctx. It does not kill anything.
func (s *CommandSink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
