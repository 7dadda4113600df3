// Package agtest contains simple mocks for common interfaces and other test
// utilities.
package agtest

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/fakenet"
)

// Timeout is the common timeout for tests.
const Timeout = 1 * time.Second

// NewConn returns a new *fakenet.Conn that can only be closed and report its
// remote address, which is based on port.  It is used where connections only
// serve as identities.
func NewConn(port uint16) (c *fakenet.Conn) {
	raddr := net.TCPAddrFromAddrPort(netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port))

	return &fakenet.Conn{
		OnClose:            func() (err error) { return nil },
		OnLocalAddr:        func() (a net.Addr) { panic(testutil.UnexpectedCall()) },
		OnRemoteAddr:       func() (a net.Addr) { return raddr },
		OnRead:             func(b []byte) (n int, err error) { panic(testutil.UnexpectedCall(b)) },
		OnWrite:            func(b []byte) (n int, err error) { panic(testutil.UnexpectedCall(b)) },
		OnSetDeadline:      func(t time.Time) (err error) { panic(testutil.UnexpectedCall(t)) },
		OnSetReadDeadline:  func(t time.Time) (err error) { panic(testutil.UnexpectedCall(t)) },
		OnSetWriteDeadline: func(t time.Time) (err error) { panic(testutil.UnexpectedCall(t)) },
	}
}

// NewErrorCollector returns an *ErrorCollector that panics on every call.
func NewErrorCollector() (c *ErrorCollector) {
	return &ErrorCollector{
		OnCollect: func(_ context.Context, err error) { panic(testutil.UnexpectedCall(err)) },
	}
}
