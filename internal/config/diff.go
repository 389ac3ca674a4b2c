package config

import (
	"reflect"
	"strings"

	"skyback/pkg/logx"
)

// Sections that can be applied to a running daemon. Anything else needs a restart.
var liveSections = map[string]bool{"logging": true, "scheduler": true}

// SummarizeChange returns the changed top-level sections and safe fields for logging.
// Secrets (the telegram token) are reported as set/unset only.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Settings, newCfg.Settings) {
		changed = append(changed, "settings")
		attrs = append(attrs,
			logx.String("settings.driver", newCfg.Settings.Driver),
			logx.String("settings.path", strings.TrimSpace(newCfg.Settings.Path)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.SchedulerEnabled()),
			logx.String("scheduler.check", strings.TrimSpace(newCfg.Scheduler.Check)),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		cmd := ""
		if newCfg.Notify.Command != nil {
			cmd = strings.TrimSpace(newCfg.Notify.Command.Path)
		}
		attrs = append(attrs,
			logx.Bool("notify.bus", newCfg.BusEnabled()),
			logx.String("notify.command", cmd),
		)
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		t := newCfg.Telegram
		if t == nil {
			t = &TelegramConfig{}
		}
		attrs = append(attrs,
			logx.Bool("telegram.enabled", t.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(t.Token) != ""),
			logx.Int("telegram.owner_count", len(t.OwnerUserIDs)),
			logx.Bool("telegram.sink", t.Sink),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	return changed, attrs
}

// RestartRequired filters sections down to the ones a running daemon cannot apply.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
