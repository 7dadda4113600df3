// Package sched contains the one-shot delayed task scheduler used to drive the
// recheck loops of the accept governors.
package sched

import (
	"context"
	"time"
)

// Task is a handle of a scheduled task.
type Task interface {
	// Cancel prevents the task from running.  ok is true if the task has not
	// run and will not run, and false if it has already run, is running, or has
	// already been cancelled.
	Cancel() (ok bool)
}

// Scheduler runs one-shot delayed tasks.
type Scheduler interface {
	// Schedule arranges for f to be called exactly once after delay on a
	// goroutine owned by the scheduler.  f receives a context derived from ctx
	// that is never cancelled.  t is never nil.
	Schedule(ctx context.Context, f func(ctx context.Context), delay time.Duration) (t Task)
}

// EmptyTask is a [Task] that does nothing.
type EmptyTask struct{}

// type check
var _ Task = EmptyTask{}

// Cancel implements the [Task] interface for EmptyTask.  ok is always false.
func (EmptyTask) Cancel() (ok bool) { return false }
