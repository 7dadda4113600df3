//go:build !unix

package connector

import (
	"syscall"
)

// newListenControl returns nil, since the socket options are not supported on
// this platform.
func newListenControl(
	_ *ControlConfig,
) (f func(network, address string, c syscall.RawConn) (err error)) {
	return nil
}
