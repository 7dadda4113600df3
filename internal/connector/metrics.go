package connector

import "context"

// Metrics is an interface used for collection of the connector statistics.
type Metrics interface {
	// IncrementAccepted increments the number of connections that have
	// completed the handshake.
	IncrementAccepted(ctx context.Context, name string)

	// IncrementFailed increments the number of connections that have failed
	// the handshake.
	IncrementFailed(ctx context.Context, name string)

	// SetAccepting sets whether the connector accepts new connections.
	SetAccepting(ctx context.Context, name string, ok bool)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// IncrementAccepted implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementAccepted(_ context.Context, _ string) {}

// IncrementFailed implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementFailed(_ context.Context, _ string) {}

// SetAccepting implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetAccepting(_ context.Context, _ string, _ bool) {}
