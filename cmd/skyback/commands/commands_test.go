package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyback/internal/app"
)

func TestVersionJSON(t *testing.T) {
	var out bytes.Buffer
	VersionCmd.SetOut(&out)
	require.NoError(t, VersionCmd.Flags().Set("json", "true"))
	t.Cleanup(func() { _ = VersionCmd.Flags().Set("json", "false") })

	require.NoError(t, VersionCmd.RunE(VersionCmd, nil))
	var info versionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestFrequencyAndMarkComplete(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "skyback.yaml")
	body := "settings:\n  driver: file\n  path: " + filepath.Join(dir, "settings.json") + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))

	prev := ConfigPath
	ConfigPath = cfg
	t.Cleanup(func() { ConfigPath = prev })

	FrequencyCmd.SetContext(t.Context())
	require.NoError(t, FrequencyCmd.RunE(FrequencyCmd, []string{"weekly"}))
	require.Error(t, FrequencyCmd.RunE(FrequencyCmd, []string{"hourly"}))

	MarkCompleteCmd.SetContext(t.Context())
	require.NoError(t, MarkCompleteCmd.Flags().Set("at", "2024-01-02T03:04:05Z"))
	require.NoError(t, MarkCompleteCmd.RunE(MarkCompleteCmd, nil))
	require.NoError(t, MarkCompleteCmd.Flags().Set("at", "yesterday"))
	require.Error(t, MarkCompleteCmd.RunE(MarkCompleteCmd, nil))

	h, err := app.OpenSettings(cfg, cliLogger())
	require.NoError(t, err)
	defer h.Close()
	doc, found, err := h.Load(t.Context())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "weekly", doc.Frequency)
	require.NotNil(t, doc.LastBackupDate)
	assert.Equal(t, "2024-01-02T03:04:05Z", *doc.LastBackupDate)
}
