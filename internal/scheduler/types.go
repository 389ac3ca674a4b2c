package scheduler

import (
	"time"

	"skyback/internal/policy"
	"skyback/internal/settings"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultCheck         = "@every 30m"
	DefaultCheckInterval = 30 * time.Minute
	DefaultCycleTimeout  = 30 * time.Second
	DefaultHistorySize   = 20
)

// Config controls the loop. Start from DefaultConfig; zero durations fall back to defaults.
type Config struct {
	PollInterval time.Duration
	Check        string // cadence, see ParseCadence
	CheckOnStart bool
	Timezone     string // IANA TZ for cron cadences, e.g. "Europe/Berlin"
	CycleTimeout time.Duration
	HistorySize  int
}

func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		Check:        DefaultCheck,
		CheckOnStart: true,
		CycleTimeout: DefaultCycleTimeout,
		HistorySize:  DefaultHistorySize,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Check == "" {
		c.Check = DefaultCheck
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = DefaultCycleTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Cycle is the outcome of one evaluation.
type Cycle struct {
	At       time.Time
	Found    bool // settings document existed
	Result   policy.Result
	Notified bool
	EventID  string
	Marked   bool // lastBackupDate persisted
	Took     time.Duration

	// Warning carries a recovered configuration problem (bad timestamp). It is never returned
	// as the cycle error.
	Warning error
}

type HistoryItem struct {
	At       time.Time
	Due      bool
	Notified bool
	Marked   bool
	EventID  string
	Duration time.Duration
	Error    string
}

type Snapshot struct {
	Running     bool
	ActiveLoops int
	Check       string
	Poll        time.Duration
	Timezone    string
	NextCheck   time.Time

	Cycles        uint64
	Notifications uint64
	Failures      uint64
	Manual        uint64

	LastCycle time.Time
	LastError string
	History   []HistoryItem
}

// Report is a read-only view of the stored settings evaluated at At.
type Report struct {
	At        time.Time
	Found     bool
	Document  settings.Document
	Result    policy.Result
	Warning   error
	Scheduler Snapshot
}
