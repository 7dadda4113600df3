//go:build unix

package connector

import (
	"syscall"

	"github.com/AdguardTeam/golibs/errors"
	"golang.org/x/sys/unix"
)

// setSockOptFunc is a function that sets a socket option on fd.
type setSockOptFunc func(fd int) (err error)

// newSetSockOptFunc returns a socket-option function with the given parameters.
func newSetSockOptFunc(name string, lvl, opt, val int) (o setSockOptFunc) {
	return func(fd int) (err error) {
		err = unix.SetsockoptInt(fd, lvl, opt, val)

		return errors.Annotate(err, "setting %s: %w", name)
	}
}

// newListenControl returns a [net.ListenConfig.Control] function that sets the
// socket options from conf.  conf must not be nil.
func newListenControl(
	conf *ControlConfig,
) (f func(network, address string, c syscall.RawConn) (err error)) {
	var opts []setSockOptFunc
	if conf.ReusePort {
		opts = append(
			opts,
			newSetSockOptFunc("SO_REUSEPORT", unix.SOL_SOCKET, unix.SO_REUSEPORT, 1),
		)
	}

	if conf.RcvBufSize > 0 {
		opts = append(
			opts,
			newSetSockOptFunc("SO_RCVBUF", unix.SOL_SOCKET, unix.SO_RCVBUF, conf.RcvBufSize),
		)
	}

	if len(opts) == 0 {
		return nil
	}

	return func(_, _ string, c syscall.RawConn) (err error) {
		var opErr error
		err = c.Control(func(fd uintptr) {
			fdInt := int(fd)
			for _, opt := range opts {
				opErr = opt(fdInt)
				if opErr != nil {
					return
				}
			}
		})
		if err != nil {
			return err
		}

		return opErr
	}
}
