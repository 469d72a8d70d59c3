package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRestart(t *testing.T) {
	sched := New("test", time.Hour, func(context.Context) error { return nil })

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning(), "scheduler should be running after Start")
	assert.ErrorIs(t, sched.Start(), ErrAlreadyRunning)

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning(), "scheduler should not be running after Stop")
	assert.True(t, sched.NextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning(), "scheduler should be running after second Start")
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err(), "scheduler context should be active after restart")
	assert.False(t, sched.NextRun().IsZero())

	require.NoError(t, sched.Stop())
}

func TestSchedulerTicks(t *testing.T) {
	var runs atomic.Int32
	sched := New("ticker", time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, sched.Start())
	defer sched.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	assert.False(t, sched.LastRun().IsZero())
}

func TestSchedulerStopCancelsJobContext(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	sched := New("blocking", time.Second, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	require.NoError(t, sched.Start())
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	require.NoError(t, sched.Stop())
	sched.Wait()
	assert.True(t, cancelled.Load())
}

func TestRunOnceRecordsStatus(t *testing.T) {
	boom := errors.New("store unreachable")
	fail := true
	sched := New("manual", time.Minute, func(context.Context) error {
		if fail {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, sched.RunOnce(context.Background()), boom)
	st := sched.Status()
	assert.Equal(t, "manual", st.Name)
	assert.False(t, st.Running)
	assert.Equal(t, "store unreachable", st.LastError)
	assert.False(t, st.LastRun.IsZero())

	fail = false
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Empty(t, sched.Status().LastError)
}
