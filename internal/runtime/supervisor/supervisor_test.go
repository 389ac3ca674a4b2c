package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background())
	s.Go("worker", func(context.Context) error { return errors.New("boom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker")
	assert.Contains(t, err.Error(), "boom")
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("bad", func(context.Context) { panic("kaboom") })
	s.Go0("good", func(ctx context.Context) { <-ctx.Done() })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	var bad TaskStats
	for _, st := range s.Stats() {
		if st.Name == "bad" {
			bad = st
		}
	}
	assert.EqualValues(t, 1, bad.Panics)
	assert.Zero(t, bad.Active)
}

func TestCancelledIsCleanStop(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()
	assert.NoError(t, s.Wait(waitCtx(t)))
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t))
	require.Error(t, err, "first failure is published")
	assert.EqualValues(t, 3, runs.Load())
}

func TestGoRestartCountsRestarts(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))
	require.NoError(t, s.Wait(waitCtx(t)))

	var st TaskStats
	for _, x := range s.Stats() {
		if x.Name == "flaky" {
			st = x
		}
	}
	assert.EqualValues(t, 3, st.Started)
	assert.EqualValues(t, 2, st.Restarts)
	assert.Equal(t, "flaky: transient", st.LastErr)
}

func TestGoRestartCleanExitRestartsWhenConfigured(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart0("poller", func(context.Context) {
		if runs.Add(1) >= 2 {
			s.Cancel()
		}
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithStopOnCleanExit(false))

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}
