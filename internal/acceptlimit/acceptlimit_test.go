package acceptlimit_test

import (
	"context"
	"sync"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/agtest"
	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/AcceptGuard/internal/sched"
	"github.com/AdguardTeam/golibs/testutil/faketime"
)

// testStart is the initial time of the fake clocks.
var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestClock returns a fake clock starting at testStart and a function that
// moves it forward.
func newTestClock() (c *faketime.Clock, advance func(d time.Duration)) {
	mu := &sync.Mutex{}
	now := testStart

	c = &faketime.Clock{
		OnNow: func() (t time.Time) {
			mu.Lock()
			defer mu.Unlock()

			return now
		},
	}

	advance = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()

		now = now.Add(d)
	}

	return c, advance
}

// scheduledTask is a task recorded by a testScheduler.
type scheduledTask struct {
	f     func(ctx context.Context)
	delay time.Duration
}

// testScheduler is a [sched.Scheduler] that records the tasks instead of
// running them.
type testScheduler struct {
	mu    *sync.Mutex
	tasks []scheduledTask
}

// newTestScheduler returns a new *testScheduler.
func newTestScheduler() (s *testScheduler) {
	return &testScheduler{
		mu: &sync.Mutex{},
	}
}

// type check
var _ sched.Scheduler = (*testScheduler)(nil)

// Schedule implements the [sched.Scheduler] interface for *testScheduler.
func (s *testScheduler) Schedule(
	_ context.Context,
	f func(ctx context.Context),
	delay time.Duration,
) (t sched.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, scheduledTask{
		f:     f,
		delay: delay,
	})

	return sched.EmptyTask{}
}

// scheduled returns the recorded tasks.
func (s *testScheduler) scheduled() (tasks []scheduledTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]scheduledTask(nil), s.tasks...)
}

// testController is a controller for tests that records its state.
type testController struct {
	*agtest.Controller

	mu        *sync.Mutex
	toggles   []bool
	listeners []connector.AcceptListener
}

// newTestController returns a new *testController with the given name that
// returns s as its scheduler.
func newTestController(name string, s sched.Scheduler) (c *testController) {
	c = &testController{
		mu: &sync.Mutex{},
	}

	c.Controller = &agtest.Controller{
		OnName: func() (n string) { return name },
		OnSetAccepting: func(_ context.Context, ok bool) {
			c.mu.Lock()
			defer c.mu.Unlock()

			c.toggles = append(c.toggles, ok)
		},
		OnIsAccepting: func() (ok bool) {
			c.mu.Lock()
			defer c.mu.Unlock()

			return len(c.toggles) == 0 || c.toggles[len(c.toggles)-1]
		},
		OnScheduler: func() (sch sched.Scheduler) { return s },
		OnAddAcceptListener: func(l connector.AcceptListener) {
			c.mu.Lock()
			defer c.mu.Unlock()

			c.listeners = append(c.listeners, l)
		},
		OnRemoveAcceptListener: func(l connector.AcceptListener) {
			c.mu.Lock()
			defer c.mu.Unlock()

			for i, cur := range c.listeners {
				if cur == l {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)

					return
				}
			}
		},
	}

	return c
}

// accepting returns the recorded calls of SetAccepting.
func (c *testController) accepting() (toggles []bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]bool(nil), c.toggles...)
}

// numListeners returns the number of registered accept listeners.
func (c *testController) numListeners() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.listeners)
}

// newPlainConnector returns a connector that cannot be controlled.
func newPlainConnector(name string) (c *agtest.Connector) {
	return &agtest.Connector{
		OnName: func() (n string) { return name },
	}
}
