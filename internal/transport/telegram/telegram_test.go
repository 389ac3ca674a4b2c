package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"skyback/internal/notify"
	"skyback/internal/policy"
	rtsup "skyback/internal/runtime/supervisor"
	"skyback/internal/scheduler"
	"skyback/internal/settings"
	"skyback/pkg/logx"
)

type fakeControls struct {
	report    scheduler.Report
	reportErr error
	backupErr error
	backups   int
}

func (f *fakeControls) BackupNow(context.Context) (notify.Event, error) {
	f.backups++
	return notify.Event{ID: "ev-1", Name: notify.EventPerformBackup, Source: notify.SourceManual}, f.backupErr
}

func (f *fakeControls) Report(context.Context) (scheduler.Report, error) {
	return f.report, f.reportErr
}

func newTestBot(t *testing.T, ctl Controls) *Bot {
	t.Helper()
	b, err := New(Config{Token: "123:test", OwnerUserIDs: []int64{42}, Offline: true}, ctl, logx.Nop())
	require.NoError(t, err)
	return b
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, &fakeControls{}, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{Token: "x", Offline: true}, nil, logx.Nop())
	require.Error(t, err)
}

func TestOwnerMiddleware(t *testing.T) {
	b := newTestBot(t, &fakeControls{})
	tests := []struct {
		name   string
		sender *tele.User
		want   bool
	}{
		{"owner", &tele.User{ID: 42}, true},
		{"stranger", &tele.User{ID: 7}, false},
		{"no sender", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := b.ownerMW(func(tele.Context) error { called = true; return nil })
			c := b.bot.NewContext(tele.Update{Message: &tele.Message{Sender: tt.sender, Chat: &tele.Chat{ID: 1}}})
			require.NoError(t, h(c))
			assert.Equal(t, tt.want, called)
		})
	}
}

func TestRecoverMiddleware(t *testing.T) {
	b := newTestBot(t, &fakeControls{})
	h := b.recoverMW(func(tele.Context) error { panic("boom") })
	err := h(b.bot.NewContext(tele.Update{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestReplyBackupNow(t *testing.T) {
	ctl := &fakeControls{}
	b := newTestBot(t, ctl)
	assert.Contains(t, b.reply(context.Background(), "/backup_now"), "ev-1")
	assert.Equal(t, 1, ctl.backups)

	ctl.backupErr = notify.ErrNoReceiver
	assert.Contains(t, b.reply(context.Background(), "/backup_now"), "failed")
}

func TestReplyStatusAndHelp(t *testing.T) {
	ctl := &fakeControls{reportErr: errors.New("disk gone")}
	b := newTestBot(t, ctl)
	assert.Contains(t, b.reply(context.Background(), "/status"), "disk gone")
	assert.Contains(t, b.reply(context.Background(), "/help"), "/backup_now")
}

func TestFormatReport(t *testing.T) {
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := scheduler.Report{
		Result: policy.Result{
			Frequency:      policy.Daily,
			FrequencyKnown: true,
			LastBackup:     last,
			Elapsed:        2 * time.Hour,
			NextDue:        last.Add(24 * time.Hour),
		},
		Scheduler: scheduler.Snapshot{Running: true, Check: "@every 30m", Cycles: 3},
	}
	out := FormatReport(r)
	assert.Contains(t, out, "Frequency: daily")
	assert.Contains(t, out, "Last backup: 2024-01-01 00:00 UTC (2h0m0s ago)")
	assert.Contains(t, out, "Next due: 2024-01-02 00:00 UTC")
	assert.Contains(t, out, "Scheduler: running, check @every 30m")
	assert.Contains(t, out, "Cycles: 3")

	never := FormatReport(scheduler.Report{Result: policy.Result{Frequency: policy.Daily, Due: true}, Document: settings.Document{Frequency: "hourly"}})
	assert.Contains(t, never, "unknown")
	assert.Contains(t, never, "Last backup: never")
	assert.Contains(t, never, "Next due: now")
	assert.Contains(t, never, "Scheduler: stopped")

	bad := FormatReport(scheduler.Report{Warning: policy.ErrInvalidTimestamp, Result: policy.Result{FrequencyKnown: true}})
	assert.Contains(t, bad, "unreadable")
	assert.NotContains(t, bad, "Next due")
}

func TestFormatEvent(t *testing.T) {
	ev := notify.Event{ID: "abc", Source: notify.SourceSchedule, At: time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)}
	assert.Equal(t, "Backup requested (schedule)\nevent: abc\nat: 2024-01-02 03:04 UTC", FormatEvent(ev))
}

func TestSinkWithoutChat(t *testing.T) {
	b := newTestBot(t, &fakeControls{})
	err := b.Sink().Notify(context.Background(), notify.Event{ID: "x"})
	assert.True(t, errors.Is(err, notify.ErrNoReceiver))
}

func TestFormatPollStats(t *testing.T) {
	assert.Empty(t, formatPollStats(nil))
	stats := []rtsup.TaskStats{
		{Name: "telegram.menu"},
		{Name: "telegram.poll", Restarts: 2, LastErr: "telegram.poll: exited"},
	}
	assert.Equal(t, "\nTelegram poll: restarts 2, last error: telegram.poll: exited", formatPollStats(stats))
	assert.Equal(t, "\nTelegram poll: restarts 0", formatPollStats([]rtsup.TaskStats{{Name: "telegram.poll"}}))
}

func TestStatusWithoutPollingHasNoPollLine(t *testing.T) {
	b := newTestBot(t, &fakeControls{})
	assert.NotContains(t, b.reply(context.Background(), "/status"), "Telegram poll")
}
