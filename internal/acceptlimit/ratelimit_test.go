package acceptlimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/acceptlimit"
	"github.com/AdguardTeam/AcceptGuard/internal/agtest"
	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// testMaxRate is the maximum rate for tests.
	testMaxRate = 1000

	// testPeriod is the common period for tests.
	testPeriod = 1 * time.Second
)

// newTestRateLimit returns a started *acceptlimit.RateLimit governing conns.
func newTestRateLimit(
	tb testing.TB,
	clock timeutil.Clock,
	conns ...connector.Connector,
) (l *acceptlimit.RateLimit) {
	tb.Helper()

	l, err := acceptlimit.NewRateLimit(&acceptlimit.RateLimitConfig{
		Logger:     slogutil.NewDiscardLogger(),
		Clock:      clock,
		Connectors: conns,
		Name:       "test_rate_limit",
		Period:     testPeriod,
		MaxRate:    testMaxRate,
	})
	require.NoError(tb, err)

	ctx := testutil.ContextWithTimeout(tb, agtest.Timeout)
	require.NoError(tb, l.Start(ctx))

	return l
}

func TestRateLimit_OnAccepting_suspend(t *testing.T) {
	t.Parallel()

	clock, advance := newTestClock()
	s := newTestScheduler()

	ctrlA := newTestController("a", s)
	ctrlB := newTestController("b", s)

	l := newTestRateLimit(t, clock, ctrlA, ctrlB)
	require.Equal(t, 1, ctrlA.numListeners())
	require.Equal(t, 1, ctrlB.numListeners())

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)

	// 1200 accepts within 500ms.
	const (
		total = 1200
		step  = 500 * time.Millisecond / total
	)

	suspendedAt := -1
	for i := range total {
		l.OnAccepting(ctx, agtest.NewConn(uint16(i)))

		if suspendedAt < 0 && len(ctrlA.accepting()) > 0 {
			suspendedAt = i
		}

		advance(step)
	}

	// The 1001st call disables accepting before it returns.
	assert.Equal(t, testMaxRate, suspendedAt)
	assert.Equal(t, []bool{false}, ctrlA.accepting())
	assert.Equal(t, []bool{false}, ctrlB.accepting())
	assert.True(t, l.Limiting())

	tasks := s.scheduled()
	require.Len(t, tasks, 1)
	assert.Equal(t, testPeriod, tasks[0].delay)

	st := l.Status()
	assert.Equal(t, acceptlimit.KindRateLimit, st.Kind)
	assert.Equal(t, []string{"a", "b"}, st.Connectors)
	assert.Equal(t, total, st.Current)
	assert.Equal(t, total, st.Max)
	assert.Equal(t, uint64(total), st.Count)
	assert.True(t, st.Limiting)
}

// suspendRateLimit suspends l by calling OnAccepting more than the maximum
// number of times without moving the clock.
func suspendRateLimit(tb testing.TB, l *acceptlimit.RateLimit) {
	tb.Helper()

	ctx := testutil.ContextWithTimeout(tb, agtest.Timeout)
	for i := range testMaxRate + 1 {
		l.OnAccepting(ctx, agtest.NewConn(uint16(i)))
	}

	require.True(tb, l.Limiting())
}

func TestRateLimit_recheck(t *testing.T) {
	t.Parallel()

	clock, advance := newTestClock()
	s := newTestScheduler()
	ctrl := newTestController("a", s)

	l := newTestRateLimit(t, clock, ctrl)
	suspendRateLimit(t, l)

	// Accepts that have already been taken from the backlog still count.
	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)
	advance(testPeriod / 2)
	for i := range testMaxRate + 1 {
		l.OnAccepting(ctx, agtest.NewConn(uint16(i)))
	}

	// The samples of the first burst expire, but the second burst is still
	// above the maximum.
	advance(testPeriod / 2)

	tasks := s.scheduled()
	require.Len(t, tasks, 1)

	tasks[0].f(ctx)
	assert.Equal(t, []bool{false}, ctrl.accepting())
	assert.True(t, l.Limiting())

	tasks = s.scheduled()
	require.Len(t, tasks, 2)
	assert.Equal(t, testPeriod, tasks[1].delay)

	// After more than a period of silence, the rate is zero.
	advance(testPeriod + time.Millisecond)
	tasks[1].f(ctx)

	assert.Equal(t, []bool{false, true}, ctrl.accepting())
	assert.False(t, l.Limiting())
	assert.Len(t, s.scheduled(), 2)

	// A repeated recheck does not resume accepting again.
	tasks[1].f(ctx)
	assert.Equal(t, []bool{false, true}, ctrl.accepting())
}

func TestRateLimit_recheck_noResumeFromAcceptPath(t *testing.T) {
	t.Parallel()

	clock, advance := newTestClock()
	s := newTestScheduler()
	ctrl := newTestController("a", s)

	l := newTestRateLimit(t, clock, ctrl)
	suspendRateLimit(t, l)

	// A single accept after the window has expired has a low rate, but only a
	// recheck may resume accepting.
	advance(2 * testPeriod)

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)
	l.OnAccepting(ctx, agtest.NewConn(1))

	assert.Equal(t, []bool{false}, ctrl.accepting())
	assert.True(t, l.Limiting())

	tasks := s.scheduled()
	require.Len(t, tasks, 1)

	tasks[0].f(ctx)
	assert.Equal(t, []bool{false, true}, ctrl.accepting())
}

func TestRateLimit_Age(t *testing.T) {
	t.Parallel()

	clock, _ := newTestClock()
	s := newTestScheduler()
	ctrl := newTestController("a", s)

	l := newTestRateLimit(t, clock, ctrl)
	suspendRateLimit(t, l)

	l.Age(testPeriod)
	assert.Zero(t, l.Status().Current)

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)
	tasks := s.scheduled()
	require.Len(t, tasks, 1)

	tasks[0].f(ctx)
	assert.Equal(t, []bool{false, true}, ctrl.accepting())
}

func TestRateLimit_OnAccepted(t *testing.T) {
	t.Parallel()

	clock, _ := newTestClock()
	s := newTestScheduler()
	ctrl := newTestController("a", s)

	l := newTestRateLimit(t, clock, ctrl)

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)
	conn := agtest.NewConn(1)
	for range testMaxRate * 2 {
		l.OnAccepted(ctx, conn, conn)
		l.OnAcceptFailed(ctx, conn, assert.AnError)
	}

	st := l.Status()
	assert.Zero(t, st.Current)
	assert.Zero(t, st.Count)
	assert.False(t, st.Limiting)
	assert.Empty(t, ctrl.accepting())
}

func TestRateLimit_Start_notController(t *testing.T) {
	t.Parallel()

	clock, _ := newTestClock()
	s := newTestScheduler()
	ctrl := newTestController("ctrl", s)

	l := newTestRateLimit(t, clock, newPlainConnector("plain"), ctrl)
	assert.Equal(t, []string{"ctrl"}, l.Status().Connectors)

	suspendRateLimit(t, l)
	assert.Equal(t, []bool{false}, ctrl.accepting())
}

func TestRateLimit_Start_noControllers(t *testing.T) {
	t.Parallel()

	clock, _ := newTestClock()
	l := newTestRateLimit(t, clock, newPlainConnector("plain"))

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)
	for i := range testMaxRate * 2 {
		l.OnAccepting(ctx, agtest.NewConn(uint16(i)))
	}

	assert.False(t, l.Limiting())
	assert.Equal(t, testMaxRate*2, l.Status().Current)
}

func TestRateLimit_server(t *testing.T) {
	t.Parallel()

	clock, _ := newTestClock()
	s := newTestScheduler()
	ctrlA := newTestController("a", s)
	ctrlB := newTestController("b", s)

	conns := []connector.Connector{ctrlA}
	srv := &agtest.Server{
		OnConnectors: func() (cs []connector.Connector) { return conns },
	}

	l, err := acceptlimit.NewRateLimit(&acceptlimit.RateLimitConfig{
		Logger:  slogutil.NewDiscardLogger(),
		Clock:   clock,
		Server:  srv,
		Name:    "test_rate_limit",
		Period:  testPeriod,
		MaxRate: testMaxRate,
	})
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)

	require.NoError(t, l.Start(ctx))
	assert.Equal(t, 1, ctrlA.numListeners())
	assert.Equal(t, []string{"a"}, l.Status().Connectors)

	err = l.Start(ctx)
	assert.ErrorIs(t, err, acceptlimit.ErrAlreadyStarted)

	require.NoError(t, l.Shutdown(ctx))
	assert.Zero(t, ctrlA.numListeners())
	assert.Empty(t, l.Status().Connectors)

	err = l.Shutdown(ctx)
	assert.ErrorIs(t, err, acceptlimit.ErrNotStarted)

	// The connectors are resolved again on every start.
	conns = []connector.Connector{ctrlB}

	require.NoError(t, l.Start(ctx))
	assert.Zero(t, ctrlA.numListeners())
	assert.Equal(t, 1, ctrlB.numListeners())
	assert.Equal(t, []string{"b"}, l.Status().Connectors)

	require.NoError(t, l.Shutdown(ctx))
}

func TestRateLimit_Shutdown_staleRecheck(t *testing.T) {
	t.Parallel()

	clock, advance := newTestClock()
	s := newTestScheduler()
	ctrl := newTestController("a", s)

	srv := &agtest.Server{
		OnConnectors: func() (cs []connector.Connector) {
			return []connector.Connector{ctrl}
		},
	}

	l, err := acceptlimit.NewRateLimit(&acceptlimit.RateLimitConfig{
		Logger:  slogutil.NewDiscardLogger(),
		Clock:   clock,
		Server:  srv,
		Name:    "test_rate_limit",
		Period:  testPeriod,
		MaxRate: testMaxRate,
	})
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)
	require.NoError(t, l.Start(ctx))

	suspendRateLimit(t, l)

	require.NoError(t, l.Shutdown(ctx))

	// Shutting down does not change the limiting state.
	assert.True(t, l.Limiting())

	advance(2 * testPeriod)

	tasks := s.scheduled()
	require.Len(t, tasks, 1)

	// The controllers have been forgotten, so the pending recheck does
	// nothing.
	tasks[0].f(ctx)
	assert.Equal(t, []bool{false}, ctrl.accepting())
	assert.Len(t, s.scheduled(), 1)

	// Starting again resets the limiting state and resumes accepting.
	require.NoError(t, l.Start(ctx))
	assert.False(t, l.Limiting())
	assert.Equal(t, []bool{false, true}, ctrl.accepting())

	require.NoError(t, l.Shutdown(ctx))
}

func TestRateLimit_Start_previousRecheck(t *testing.T) {
	t.Parallel()

	clock, advance := newTestClock()
	s := newTestScheduler()
	ctrl := newTestController("a", s)

	l := newTestRateLimit(t, clock, ctrl)
	suspendRateLimit(t, l)

	ctx := testutil.ContextWithTimeout(t, agtest.Timeout)
	require.NoError(t, l.Shutdown(ctx))
	require.NoError(t, l.Start(ctx))
	require.Equal(t, []bool{false, true}, ctrl.accepting())

	// A burst spread over a period suspends accepting again at its end.
	advance(testPeriod)
	for i := range testMaxRate {
		l.OnAccepting(ctx, agtest.NewConn(uint16(i)))
	}

	advance(testPeriod - time.Millisecond)
	l.OnAccepting(ctx, agtest.NewConn(testMaxRate))
	require.True(t, l.Limiting())
	require.Equal(t, []bool{false, true, false}, ctrl.accepting())

	tasks := s.scheduled()
	require.Len(t, tasks, 2)

	// Most of the burst expires shortly after the second suspension.  The
	// recheck of the first suspension must neither resume accepting nor
	// reschedule itself.
	advance(2 * time.Millisecond)
	tasks[0].f(ctx)

	assert.True(t, l.Limiting())
	assert.Equal(t, []bool{false, true, false}, ctrl.accepting())
	assert.Len(t, s.scheduled(), 2)

	// The recheck of the second suspension resumes accepting one period after
	// it.
	advance(testPeriod)
	tasks[1].f(ctx)

	assert.False(t, l.Limiting())
	assert.Equal(t, []bool{false, true, false, true}, ctrl.accepting())

	require.NoError(t, l.Shutdown(ctx))
}

func TestNewRateLimit_validation(t *testing.T) {
	t.Parallel()

	ctrl := newTestController("a", newTestScheduler())

	testCases := []struct {
		conf      *acceptlimit.RateLimitConfig
		wantErrIs error
		name      string
	}{{
		conf:      nil,
		wantErrIs: errors.ErrNoValue,
		name:      "nil",
	}, {
		conf: &acceptlimit.RateLimitConfig{
			Logger:  slogutil.NewDiscardLogger(),
			Name:    "test",
			Period:  testPeriod,
			MaxRate: testMaxRate,
		},
		wantErrIs: acceptlimit.ErrNoTargets,
		name:      "no_targets",
	}, {
		conf: &acceptlimit.RateLimitConfig{
			Logger:     slogutil.NewDiscardLogger(),
			Server:     &agtest.Server{},
			Connectors: []connector.Connector{ctrl},
			Name:       "test",
			Period:     testPeriod,
			MaxRate:    testMaxRate,
		},
		wantErrIs: acceptlimit.ErrBothTargets,
		name:      "both_targets",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l, err := acceptlimit.NewRateLimit(tc.conf)
			assert.Nil(t, l)
			assert.ErrorIs(t, err, tc.wantErrIs)
		})
	}

	t.Run("bad_values", func(t *testing.T) {
		t.Parallel()

		l, err := acceptlimit.NewRateLimit(&acceptlimit.RateLimitConfig{
			Logger:     slogutil.NewDiscardLogger(),
			Connectors: []connector.Connector{ctrl},
			Name:       "test",
			Period:     0,
			MaxRate:    -1,
		})
		assert.Nil(t, l)
		require.Error(t, err)
		assert.ErrorContains(t, err, "Period")
		assert.ErrorContains(t, err, "MaxRate")
	})
}

func BenchmarkRateLimit_OnAccepting(b *testing.B) {
	s := newTestScheduler()
	ctrl := newTestController("a", s)

	l, err := acceptlimit.NewRateLimit(&acceptlimit.RateLimitConfig{
		Logger:     slogutil.NewDiscardLogger(),
		Connectors: []connector.Connector{ctrl},
		Name:       "bench_rate_limit",
		Period:     testPeriod,
		MaxRate:    1 << 30,
	})
	require.NoError(b, err)

	ctx := context.Background()
	require.NoError(b, l.Start(ctx))

	conn := agtest.NewConn(1)

	b.ReportAllocs()
	for b.Loop() {
		l.OnAccepting(ctx, conn)
	}
}
