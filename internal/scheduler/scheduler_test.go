package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appLog "calmirror/internal/log"
)

type scheduleFunc func(time.Time) time.Time

func (f scheduleFunc) Next(t time.Time) time.Time { return f(t) }

func every(d time.Duration) scheduleFunc {
	return func(t time.Time) time.Time { return t.Add(d) }
}

func runAsync(ctx context.Context, s *Scheduler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func TestSchedulerRepeatsAndSurvivesFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	run := func(context.Context) error {
		n := calls.Add(1)
		switch n {
		case 2:
			return errors.New("backend down")
		case 3:
			panic("unexpected")
		case 5:
			cancel()
		}
		return nil
	}

	s := New(every(time.Millisecond), run, appLog.Nop())
	select {
	case err := <-runAsync(ctx, s):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 5, s.Passes())
}

func TestSchedulerStopsWhileIdle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	run := func(context.Context) error {
		started <- struct{}{}
		return nil
	}

	s := New(every(time.Hour), run, appLog.Nop())
	done := runAsync(ctx, s)

	<-started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop while idle")
	}
	assert.Equal(t, 1, s.Passes())
}

func TestSchedulerDoesNotCancelRunningPass(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var passCtxErr error
	run := func(passCtx context.Context) error {
		cancel()
		time.Sleep(10 * time.Millisecond)
		passCtxErr = passCtx.Err()
		return nil
	}

	s := New(every(time.Hour), run, appLog.Nop())
	require.NoError(t, s.Run(ctx))
	assert.NoError(t, passCtxErr, "in-flight pass keeps running after a stop request")
	assert.Equal(t, 1, s.Passes())
}

func TestSchedulerAlreadyCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(every(time.Millisecond), func(context.Context) error {
		t.Error("no pass expected")
		return nil
	}, nil)
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 0, s.Passes())
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sched, err := ParseSchedule("@every 15m")
	require.NoError(t, err)
	assert.True(t, from.Add(15*time.Minute).Equal(sched.Next(from)))

	sched, err = ParseSchedule("*/30 * * * *")
	require.NoError(t, err)
	assert.True(t, from.Add(30*time.Minute).Equal(sched.Next(from)))

	_, err = ParseSchedule("not a schedule")
	assert.Error(t, err)
	_, err = ParseSchedule(" ")
	assert.Error(t, err)

	assert.True(t, from.Add(900*time.Second).Equal(Every(900*time.Second).Next(from)))
}
