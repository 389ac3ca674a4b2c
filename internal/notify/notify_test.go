package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyback/internal/eventbus"
	"skyback/pkg/logx"
)

func TestNewEvent(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC)
	a := NewEvent(SourceSchedule, at)
	b := NewEvent(SourceManual, at)
	assert.Equal(t, EventPerformBackup, a.Name)
	assert.Equal(t, SourceSchedule, a.Source)
	assert.Equal(t, at, a.At)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	ev := NewEvent(SourceManual, time.Now())
	ok := SinkFunc(func(context.Context, Event) error { return nil })
	bad := SinkFunc(func(context.Context, Event) error { return errors.New("down") })

	t.Run("no sinks", func(t *testing.T) {
		assert.ErrorIs(t, Fanout(logx.Nop()).Notify(ctx, ev), ErrNoReceiver)
	})
	t.Run("one of two accepts", func(t *testing.T) {
		err := Fanout(logx.Nop(), Named{"bad", bad}, Named{"ok", ok}).Notify(ctx, ev)
		assert.NoError(t, err)
	})
	t.Run("all fail", func(t *testing.T) {
		err := Fanout(logx.Nop(),
			Named{"bad", bad},
			Named{"bus", SinkFunc(func(context.Context, Event) error { return ErrNoReceiver })},
		).Notify(ctx, ev)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoReceiver)
		assert.Contains(t, err.Error(), "sink bad")
	})
	t.Run("nil sinks skipped", func(t *testing.T) {
		assert.ErrorIs(t, Fanout(logx.Nop(), Named{Name: "nil"}).Notify(ctx, ev), ErrNoReceiver)
	})
}

func TestBusSink(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	sink := BusSink{Bus: bus}
	ev := NewEvent(SourceSchedule, time.Now())

	assert.ErrorIs(t, sink.Notify(ctx, ev), ErrNoReceiver)

	ch, unsub := bus.Subscribe(1, eventbus.TypePerformBackup)
	defer unsub()
	require.NoError(t, sink.Notify(ctx, ev))

	select {
	case got := <-ch:
		assert.Equal(t, eventbus.TypePerformBackup, got.Type)
		assert.Equal(t, ev, got.Data)
	case <-time.After(time.Second):
		t.Fatal("no event on bus")
	}
}

func TestCompletionRoundTrip(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1, eventbus.TypeBackupCompleted)
	defer unsub()

	at := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	PublishCompletion(bus, Completion{EventID: "ev-9", At: at})
	got := CompletionFrom(<-ch)
	assert.Equal(t, "ev-9", got.EventID)
	assert.True(t, got.At.Equal(at))

	fallback := CompletionFrom(eventbus.Event{Type: eventbus.TypeBackupCompleted, Time: at, Data: "done"})
	assert.Empty(t, fallback.EventID)
	assert.True(t, fallback.At.Equal(at))
}

func runCommand(t *testing.T, cfg CommandConfig) (*CommandSink, chan error) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	done := make(chan error, 4)
	s, err := NewCommandSink(cfg, logx.Nop(), WithCompletion(func(_ Event, err error) { done <- err }))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not finish")
		return nil
	}
}

func TestCommandSinkPassesEventEnv(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.txt")
	s, done := runCommand(t, CommandConfig{
		Path: "/bin/sh",
		Args: []string{"-c", `printf '%s %s' "$SKYBACK_EVENT_SOURCE" "$SKYBACK_EVENT_ID" > "$OUT"`},
		Env:  []string{"OUT=" + out},
	})
	ev := NewEvent(SourceManual, time.Now())
	require.NoError(t, s.Notify(context.Background(), ev))
	require.NoError(t, waitDone(t, done))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "manual "+ev.ID, string(b))
	assert.False(t, s.Busy())
}

func TestCommandSinkBusyWhileRunning(t *testing.T) {
	s, done := runCommand(t, CommandConfig{Path: "/bin/sh", Args: []string{"-c", "sleep 0.3"}})
	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, NewEvent(SourceSchedule, time.Now())))
	assert.True(t, s.Busy())
	assert.ErrorIs(t, s.Notify(ctx, NewEvent(SourceManual, time.Now())), ErrBusy)
	require.NoError(t, waitDone(t, done))
}

func TestCommandSinkThrottle(t *testing.T) {
	s, done := runCommand(t, CommandConfig{Path: "/bin/sh", Args: []string{"-c", "true"}, MinInterval: time.Hour})
	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, NewEvent(SourceSchedule, time.Now())))
	require.NoError(t, waitDone(t, done))
	assert.ErrorIs(t, s.Notify(ctx, NewEvent(SourceSchedule, time.Now())), ErrThrottled)
	assert.False(t, s.Busy(), "throttled launch releases the busy flag")
}

func TestCommandSinkReportsFailure(t *testing.T) {
	s, done := runCommand(t, CommandConfig{Path: "/bin/sh", Args: []string{"-c", "echo nope >&2; exit 3"}})
	require.NoError(t, s.Notify(context.Background(), NewEvent(SourceSchedule, time.Now())))
	err := waitDone(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestCommandSinkTimeout(t *testing.T) {
	s, done := runCommand(t, CommandConfig{Path: "/bin/sh", Args: []string{"-c", "exec sleep 5"}, Timeout: 100 * time.Millisecond})
	require.NoError(t, s.Notify(context.Background(), NewEvent(SourceSchedule, time.Now())))
	err := waitDone(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandSinkStartFailure(t *testing.T) {
	s, err := NewCommandSink(CommandConfig{Path: filepath.Join(t.TempDir(), "missing")}, logx.Nop())
	require.NoError(t, err)
	err = s.Notify(context.Background(), NewEvent(SourceSchedule, time.Now()))
	require.Error(t, err)
	assert.False(t, s.Busy())

	_, err = NewCommandSink(CommandConfig{Path: "  "}, logx.Nop())
	require.Error(t, err)
}

func TestTailBufferKeepsEnd(t *testing.T) {
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab"))
	assert.Equal(t, "456789ab", b.String())
	assert.False(t, strings.Contains(b.String(), "0"))
}
