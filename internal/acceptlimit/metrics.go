package acceptlimit

import "context"

// Metrics is an interface used for collection of the accept governor
// statistics.
type Metrics interface {
	// SetCurrent sets the current rate or the current number of accepts in
	// flight of the governor with the given name.
	SetCurrent(ctx context.Context, name string, n int)

	// SetLimiting sets whether the governor with the given name has suspended
	// accepting.
	SetLimiting(ctx context.Context, name string, ok bool)

	// IncrementSuspensions increments the number of times the governor with
	// the given name has suspended accepting.
	IncrementSuspensions(ctx context.Context, name string)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// SetCurrent implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetCurrent(_ context.Context, _ string, _ int) {}

// SetLimiting implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetLimiting(_ context.Context, _ string, _ bool) {}

// IncrementSuspensions implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementSuspensions(_ context.Context, _ string) {}
