package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/errcoll"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
)

// TimerConfig is the configuration structure for a *Timer.
type TimerConfig struct {
	// Logger is used to log the operation of the scheduler.  It must not be
	// nil.
	Logger *slog.Logger

	// ErrColl is used to collect the panics of the tasks.  It must not be nil.
	ErrColl errcoll.Interface
}

// Timer is a [Scheduler] that runs every task on its own timer goroutine.
type Timer struct {
	logger  *slog.Logger
	errColl errcoll.Interface

	// mu protects pending and isShutdown.
	mu         *sync.Mutex
	pending    *container.MapSet[*timerTask]
	isShutdown bool
}

// NewTimer returns a new properly initialized *Timer.  c must not be nil.
func NewTimer(c *TimerConfig) (s *Timer) {
	return &Timer{
		logger:  c.Logger,
		errColl: c.ErrColl,
		mu:      &sync.Mutex{},
		pending: container.NewMapSet[*timerTask](),
	}
}

// timerTask is a [Task] created by a [*Timer].
type timerTask struct {
	sched *Timer
	timer *time.Timer
}

// type check
var _ Task = (*timerTask)(nil)

// Cancel implements the [Task] interface for *timerTask.
func (t *timerTask) Cancel() (ok bool) {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()

	if !t.sched.pending.Has(t) {
		return false
	}

	t.sched.pending.Delete(t)

	return t.timer.Stop()
}

// type check
var _ Scheduler = (*Timer)(nil)

// Schedule implements the [Scheduler] interface for *Timer.  After a shutdown,
// the tasks are never run.
func (s *Timer) Schedule(
	ctx context.Context,
	f func(ctx context.Context),
	delay time.Duration,
) (t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isShutdown {
		s.logger.DebugContext(ctx, "task scheduled after shutdown")

		return EmptyTask{}
	}

	ctx = context.WithoutCancel(ctx)
	task := &timerTask{
		sched: s,
	}

	task.timer = time.AfterFunc(delay, func() {
		s.run(ctx, task, f)
	})

	s.pending.Add(task)

	return task
}

// run removes task from the pending set and calls f unless the task has been
// cancelled in the meantime.
func (s *Timer) run(ctx context.Context, task *timerTask, f func(ctx context.Context)) {
	s.mu.Lock()
	isPending := s.pending.Has(task)
	s.pending.Delete(task)
	s.mu.Unlock()

	if !isPending {
		return
	}

	defer s.recoverTask(ctx)

	f(ctx)
}

// recoverTask is a deferred helper that recovers a panic of a task and reports
// it.  Other tasks are not affected.
func (s *Timer) recoverTask(ctx context.Context) {
	err := errors.FromRecovered(recover())
	if err == nil {
		return
	}

	errcoll.Collect(ctx, s.errColl, s.logger, "running scheduled task", err)
	slogutil.PrintStack(ctx, s.logger, slog.LevelError)
}

// Pending returns the number of tasks that have neither run nor been
// cancelled.
func (s *Timer) Pending() (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending.Len()
}

// type check
var _ service.Interface = (*Timer)(nil)

// Start implements the [service.Interface] interface for *Timer.  err is always
// nil.
func (s *Timer) Start(_ context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isShutdown = false

	return nil
}

// Shutdown implements the [service.Interface] interface for *Timer.  It
// cancels all pending tasks.  err is always nil.
func (s *Timer) Shutdown(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isShutdown = true

	n := 0
	s.pending.Range(func(t *timerTask) (cont bool) {
		if t.timer.Stop() {
			n++
		}

		return true
	})

	s.pending = container.NewMapSet[*timerTask]()

	s.logger.InfoContext(ctx, "scheduler shut down", "cancelled", n)

	return nil
}
