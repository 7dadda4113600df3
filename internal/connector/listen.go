package connector

import (
	"context"
	"net"
)

// ListenConfig opens stream listeners.  It is modeled after
// [net.ListenConfig].
type ListenConfig interface {
	Listen(ctx context.Context, network, address string) (l net.Listener, err error)
}

// ControlConfig is the configuration of the socket options of the listeners
// returned by [NewListenConfig].
type ControlConfig struct {
	// RcvBufSize defines the size of socket receive buffer in bytes.  Zero
	// means that the default value of the operating system is used.
	RcvBufSize int

	// ReusePort defines whether the SO_REUSEPORT socket option is set.
	ReusePort bool
}

// NewListenConfig returns a [ListenConfig] that sets the socket options from c.
// If c is nil, the default options are used.
func NewListenConfig(c *ControlConfig) (lc ListenConfig) {
	if c == nil {
		c = &ControlConfig{}
	}

	return &net.ListenConfig{
		Control: newListenControl(c),
	}
}
