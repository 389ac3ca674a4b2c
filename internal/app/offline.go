package app

import (
	"github.com/cockroachdb/errors"

	"skyback/internal/config"
	"skyback/internal/settings"
	"skyback/pkg/logx"
)

// SettingsHandle is the settings store opened without any sinks, for one-shot CLI commands.
type SettingsHandle struct {
	*settings.Manager
	Config *config.Config
	store  settings.Store
}

func (h *SettingsHandle) Close() error { return h.store.Close() }

// OpenSettings loads the config at cfgPath and opens only its settings store.
func OpenSettings(cfgPath string, log logx.Logger) (*SettingsHandle, error) {
	if log.IsZero() {
		log = logx.NewConsole("warn")
	}
	cfg, _, err := config.NewManager(cfgPath, log).LoadOrDefault()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	sc, err := cfg.SettingsRuntime()
	if err != nil {
		return nil, err
	}
	if sc.Driver == "memory" {
		return nil, errors.WithHint(
			errors.New("settings.driver is memory; nothing to read outside the daemon"),
			"use the file or sqlite driver to manage settings from the CLI",
		)
	}
	store, err := settings.Open(sc, log)
	if err != nil {
		return nil, errors.Wrap(err, "open settings store")
	}
	return &SettingsHandle{
		Manager: settings.NewManager(store, sc.Key, log),
		Config:  cfg,
		store:   store,
	}, nil
}
