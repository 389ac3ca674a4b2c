package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyback/internal/eventbus"
	"skyback/internal/notify"
	"skyback/pkg/logx"
)

// The scheduler section comes last so tests can append keys to it.
const baseConfig = `
logging:
  level: error
settings:
  driver: memory
systemd:
  notify: false
  watchdog: false
scheduler:
  poll_interval: 10ms
  check: "@every 1h"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skyback.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func startApp(t *testing.T, body string, opts ...Option) *App {
	t.Helper()
	a, err := New(writeConfig(t, body), opts...)
	require.NoError(t, err)
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func lastBackup(t *testing.T, a *App) string {
	t.Helper()
	doc, _, err := a.Settings().Load(context.Background())
	require.NoError(t, err)
	if doc.LastBackupDate == nil {
		return ""
	}
	return *doc.LastBackupDate
}

func TestScheduledBackupReachesBusReceiver(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC)
	a := startApp(t, baseConfig, WithClock(func() time.Time { return now }))

	events, unsub := a.Bus().Subscribe(4, eventbus.TypePerformBackup)
	defer unsub()

	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	select {
	case e := <-events:
		ev, ok := e.Data.(notify.Event)
		require.True(t, ok)
		assert.Equal(t, notify.SourceSchedule, ev.Source)
	case <-time.After(3 * time.Second):
		t.Fatal("no perform-backup on bus")
	}
	require.Eventually(t, func() bool {
		return lastBackup(t, a) == "2024-01-02T00:00:01Z"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCompletionEventMarksBackup(t *testing.T) {
	a := startApp(t, baseConfig+"  enabled: false\n")
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)
	assert.False(t, a.Scheduler().Running())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	notify.PublishCompletion(a.Bus(), notify.Completion{EventID: "ev-1", At: at})
	require.Eventually(t, func() bool {
		return lastBackup(t, a) == "2024-03-01T12:00:00Z"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBackupNowWithoutReceiver(t *testing.T) {
	a := startApp(t, baseConfig)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	_, err := a.BackupNow(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, notify.ErrNoReceiver))
	assert.Empty(t, lastBackup(t, a), "manual trigger never marks completion")
}

func TestCommandSinkReportsCompletion(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	now := time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)
	// The scheduler is off, so only the executor's completion can set lastBackupDate.
	a := startApp(t, baseConfig+`  enabled: false
notify:
  bus: false
  command:
    path: /bin/sh
    args: ["-c", "exit 0"]
    report_completion: true
`, WithClock(func() time.Time { return now }))
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	ev, err := a.BackupNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notify.SourceManual, ev.Source)

	require.Eventually(t, func() bool {
		return lastBackup(t, a) == "2024-05-05T05:05:05Z"
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, a.WaitExecutor(context.Background()))
}

func TestHotReloadTogglesScheduler(t *testing.T) {
	path := writeConfig(t, baseConfig)
	a, err := New(path)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)
	require.True(t, a.Scheduler().Running())

	reloaded, unsub := a.Bus().Subscribe(1, eventbus.TypeConfigReloaded)
	defer unsub()

	// Let the watcher register before rewriting.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(baseConfig+"  enabled: false\n"), 0o644))

	select {
	case e := <-reloaded:
		assert.Contains(t, e.Data, "scheduler")
	case <-time.After(3 * time.Second):
		t.Fatal("config not reloaded")
	}
	assert.False(t, a.Scheduler().Running())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, "settings:\n  driver: etcd\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings.driver")
}

func TestNewWithMissingConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	a, err := New(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()
	assert.True(t, a.Config().SchedulerEnabled())
	assert.Equal(t, "file", a.Config().Settings.Driver)
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestOpenSettingsFileDriver(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "settings:\n  driver: file\n  path: "+filepath.Join(dir, "settings.json")+"\n")

	h, err := OpenSettings(path, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, h.SetFrequency(context.Background(), "weekly"))
	require.NoError(t, h.Close())

	h, err = OpenSettings(path, logx.Nop())
	require.NoError(t, err)
	defer h.Close()
	doc, found, err := h.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "weekly", doc.Frequency)
}

func TestOpenSettingsRejectsMemory(t *testing.T) {
	_, err := OpenSettings(writeConfig(t, baseConfig), logx.Nop())
	require.Error(t, err)
	assert.NotEmpty(t, errors.FlattenHints(err))
}
