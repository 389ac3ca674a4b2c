package config

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"skyback/internal/notify"
	"skyback/internal/scheduler"
	"skyback/internal/settings"
	"skyback/pkg/logx"
)

const (
	defaultTelegramPoll  = 10 * time.Second
	defaultCommandTimout = 2 * time.Hour
)

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (c *Config) LoggingRuntime() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

func (c *Config) SettingsRuntime() (settings.Config, error) {
	busy, err := ParseDurationField("settings.busy_timeout", c.Settings.BusyTimeout)
	if err != nil {
		return settings.Config{}, err
	}
	path := strings.TrimSpace(c.Settings.Path)
	driver := strings.ToLower(strings.TrimSpace(c.Settings.Driver))
	if path == "" && driver != "memory" {
		path = DefaultSettingsPath
	}
	return settings.Config{
		Driver:      driver,
		Path:        path,
		Key:         strings.TrimSpace(c.Settings.Key),
		BusyTimeout: busy,
	}, nil
}

func (c *Config) SchedulerEnabled() bool { return boolOr(c.Scheduler.Enabled, true) }

func (c *Config) SchedulerRuntime() (scheduler.Config, error) {
	sc := c.Scheduler
	out := scheduler.DefaultConfig()
	var err error
	if out.PollInterval, err = ParseDurationOrDefault("scheduler.poll_interval", sc.PollInterval, scheduler.DefaultPollInterval); err != nil {
		return scheduler.Config{}, err
	}
	if out.CycleTimeout, err = ParseDurationOrDefault("scheduler.cycle_timeout", sc.CycleTimeout, scheduler.DefaultCycleTimeout); err != nil {
		return scheduler.Config{}, err
	}
	if s := strings.TrimSpace(sc.Check); s != "" {
		out.Check = s
	}
	out.CheckOnStart = boolOr(sc.CheckOnStart, true)
	out.Timezone = strings.TrimSpace(sc.Timezone)
	if sc.HistorySize > 0 {
		out.HistorySize = sc.HistorySize
	}
	return out, nil
}

func (c *Config) BusEnabled() bool { return boolOr(c.Notify.Bus, true) }

// CommandRuntime returns nil when no command sink is configured.
func (c *Config) CommandRuntime() (*notify.CommandConfig, error) {
	cc := c.Notify.Command
	if cc == nil || strings.TrimSpace(cc.Path) == "" {
		return nil, nil
	}
	timeout, err := ParseDurationOrDefault("notify.command.timeout", cc.Timeout, defaultCommandTimout)
	if err != nil {
		return nil, err
	}
	minInterval, err := ParseDurationField("notify.command.min_interval", cc.MinInterval)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(cc.Env))
	for k := range cc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+cc.Env[k])
	}
	return &notify.CommandConfig{
		Path:        strings.TrimSpace(cc.Path),
		Args:        append([]string(nil), cc.Args...),
		Dir:         cc.Dir,
		Env:         env,
		Timeout:     timeout,
		MinInterval: minInterval,
	}, nil
}

func (c *Config) TelegramEnabled() bool { return c.Telegram != nil && c.Telegram.Enabled }

func (c *Config) TelegramPollTimeout() (time.Duration, error) {
	if c.Telegram == nil {
		return defaultTelegramPoll, nil
	}
	return ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, defaultTelegramPoll)
}

// Validate checks everything the daemon would otherwise reject at startup. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.SettingsRuntime(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Settings.Driver)) {
	case "", "file", "sqlite", "sqlite3", "memory":
	default:
		errs = append(errs, errors.Newf("settings.driver: unknown driver %q", c.Settings.Driver))
	}
	if sc, err := c.SchedulerRuntime(); err != nil {
		errs = append(errs, err)
	} else if _, err := scheduler.ParseCadence(sc.Check, nil); err != nil {
		errs = append(errs, errors.Wrap(err, "scheduler.check"))
	} else if sc.Timezone != "" {
		if _, err := time.LoadLocation(sc.Timezone); err != nil {
			errs = append(errs, errors.Wrapf(err, "scheduler.timezone %q", sc.Timezone))
		}
	}
	cmd, err := c.CommandRuntime()
	if err != nil {
		errs = append(errs, err)
	}
	if c.TelegramEnabled() {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token is required when telegram.enabled"))
		}
		if c.Telegram.Sink && c.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("telegram.chat_id is required when telegram.sink"))
		}
		if _, err := c.TelegramPollTimeout(); err != nil {
			errs = append(errs, err)
		}
	}
	// An empty command path builds no sink, so it does not count.
	if !c.BusEnabled() && cmd == nil && err == nil && !(c.TelegramEnabled() && c.Telegram.Sink) {
		errs = append(errs, errors.WithHint(
			errors.New("notify: no perform-backup sink configured"),
			"enable notify.bus, set notify.command.path, or enable telegram.sink",
		))
	}
	return joinWithHints(errs)
}

// joinWithHints joins errs and lifts their hints to the top, where FlattenHints finds them.
func joinWithHints(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	out := errors.Join(errs...)
	for _, e := range errs {
		for _, h := range errors.GetAllHints(e) {
			out = errors.WithHint(out, h)
		}
	}
	return out
}
