package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings ("5s", "30m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Settings  SettingsConfig  `json:"settings"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SettingsConfig selects where the backup settings document lives.
//
// Example:
//
//	"settings": { "driver": "file", "path": "./data/settings.json", "key": "settings" }
type SettingsConfig struct {
	Driver      string `json:"driver"` // file | sqlite | memory
	Path        string `json:"path"`
	Key         string `json:"key,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// SchedulerConfig controls the backup loop.
//
// Enabled and CheckOnStart are pointers so an omitted key keeps the default (true).
//
// Defaults:
//   - poll_interval: "5s"
//   - check: "@every 30m"
//   - cycle_timeout: "30s"
//   - history_size: 20
type SchedulerConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	Check        string `json:"check,omitempty"`
	CheckOnStart *bool  `json:"check_on_start,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// NotifyConfig lists the perform-backup sinks. The bus sink is on unless disabled.
type NotifyConfig struct {
	Bus     *bool          `json:"bus,omitempty"`
	Command *CommandConfig `json:"command,omitempty"`
}

// CommandConfig runs an external executor for every perform-backup event.
//
// The process receives SKYBACK_EVENT_ID, SKYBACK_EVENT_SOURCE and SKYBACK_EVENT_AT.
type CommandConfig struct {
	Path        string            `json:"path"`
	Args        []string          `json:"args,omitempty"`
	Dir         string            `json:"dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Timeout     string            `json:"timeout,omitempty"`      // default "2h"
	MinInterval string            `json:"min_interval,omitempty"` // "0s" disables throttling
	// ReportCompletion records lastBackupDate when the executor exits 0.
	ReportCompletion bool `json:"report_completion,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	ChatID       int64   `json:"chat_id,omitempty"`
	ThreadID     int     `json:"thread_id,omitempty"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Sink posts perform-backup events to ChatID.
	Sink bool `json:"sink,omitempty"`
}

// SystemdConfig toggles sd_notify integration. Both are no-ops outside systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}

// Default is used when no config file exists.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Console: true},
		Settings: SettingsConfig{Driver: "file", Path: DefaultSettingsPath},
		Systemd:  SystemdConfig{Notify: true, Watchdog: true},
	}
}

const (
	DefaultPath         = "./skyback.yaml"
	DefaultSettingsPath = "./data/settings.json"
)
