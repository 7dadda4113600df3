package sched_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/agtest"
	"github.com/AdguardTeam/AcceptGuard/internal/sched"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDelay is the common delay of the scheduled tasks for tests.
const testDelay = 10 * time.Millisecond

// newTestTimer returns a new *sched.Timer for tests with errColl.
func newTestTimer(tb testing.TB, errColl *agtest.ErrorCollector) (s *sched.Timer) {
	tb.Helper()

	s = sched.NewTimer(&sched.TimerConfig{
		Logger:  slogutil.NewDiscardLogger(),
		ErrColl: errColl,
	})

	ctx := testutil.ContextWithTimeout(tb, agtest.Timeout)
	require.NoError(tb, s.Start(ctx))
	testutil.CleanupAndRequireSuccess(tb, func() (err error) {
		return s.Shutdown(context.Background())
	})

	return s
}

func TestTimer_Schedule(t *testing.T) {
	t.Parallel()

	s := newTestTimer(t, agtest.NewErrorCollector())
	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)

	ranCh := make(chan time.Duration, 1)
	start := time.Now()
	_ = s.Schedule(ctx, func(_ context.Context) {
		ranCh <- time.Since(start)
	}, testDelay)

	elapsed, _ := testutil.RequireReceive(t, ranCh, agtest.Timeout)
	assert.GreaterOrEqual(t, elapsed, testDelay)
	assert.Zero(t, s.Pending())
}

func TestTimer_Schedule_contextNotCancelled(t *testing.T) {
	t.Parallel()

	s := newTestTimer(t, agtest.NewErrorCollector())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	_ = s.Schedule(ctx, func(taskCtx context.Context) {
		errCh <- taskCtx.Err()
	}, testDelay)
	cancel()

	err, _ := testutil.RequireReceive(t, errCh, agtest.Timeout)
	assert.NoError(t, err)
}

func TestTimerTask_Cancel(t *testing.T) {
	t.Parallel()

	s := newTestTimer(t, agtest.NewErrorCollector())
	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)

	t.Run("before_run", func(t *testing.T) {
		t.Parallel()

		var ran atomic.Bool
		task := s.Schedule(ctx, func(_ context.Context) { ran.Store(true) }, agtest.Timeout)

		assert.True(t, task.Cancel())
		assert.False(t, task.Cancel())
		assert.False(t, ran.Load())
	})

	t.Run("after_run", func(t *testing.T) {
		t.Parallel()

		ranCh := make(chan struct{}, 1)
		task := s.Schedule(ctx, func(_ context.Context) { ranCh <- struct{}{} }, 0)

		_, _ = testutil.RequireReceive(t, ranCh, agtest.Timeout)
		assert.False(t, task.Cancel())
	})
}

func TestTimer_Schedule_panic(t *testing.T) {
	t.Parallel()

	errCh := make(chan error, 1)
	errColl := &agtest.ErrorCollector{
		OnCollect: func(_ context.Context, err error) {
			errCh <- err
		},
	}

	s := newTestTimer(t, errColl)
	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)

	_ = s.Schedule(ctx, func(_ context.Context) { panic("test panic") }, 0)

	err, _ := testutil.RequireReceive(t, errCh, agtest.Timeout)
	require.Error(t, err)
	assert.ErrorContains(t, err, "running scheduled task")
	assert.ErrorContains(t, err, "test panic")

	ranCh := make(chan struct{}, 1)
	_ = s.Schedule(ctx, func(_ context.Context) { ranCh <- struct{}{} }, 0)

	_, _ = testutil.RequireReceive(t, ranCh, agtest.Timeout)
}

func TestTimer_Shutdown(t *testing.T) {
	t.Parallel()

	s := sched.NewTimer(&sched.TimerConfig{
		Logger:  slogutil.NewDiscardLogger(),
		ErrColl: agtest.NewErrorCollector(),
	})

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)

	var ran atomic.Bool
	task := s.Schedule(ctx, func(_ context.Context) { ran.Store(true) }, testDelay)
	require.Equal(t, 1, s.Pending())

	require.NoError(t, s.Shutdown(ctx))
	assert.Zero(t, s.Pending())
	assert.False(t, task.Cancel())

	after := s.Schedule(ctx, func(_ context.Context) { ran.Store(true) }, 0)
	assert.Equal(t, sched.EmptyTask{}, after)

	time.Sleep(2 * testDelay)
	assert.False(t, ran.Load())
}
