// Package connector contains the network connectors whose accepting of new
// stream-connections can be suspended and resumed, as well as the interfaces
// that accept governors use to control them.
package connector

import (
	"context"
	"net"

	"github.com/AdguardTeam/AcceptGuard/internal/sched"
	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrAlreadyStarted is returned when a connector is started twice.
	ErrAlreadyStarted errors.Error = "connector already started"

	// ErrNotStarted is returned when a connector that has not been started is
	// shut down.
	ErrNotStarted errors.Error = "connector not started"
)

// Connector is a named network endpoint that accepts stream-connections.
type Connector interface {
	// Name returns the name of the connector, which is used for logging and
	// metrics.
	Name() (name string)
}

// Controller is a [Connector] that allows suspending its accepting of new
// connections.  Only Controllers can be governed.
type Controller interface {
	Connector

	// SetAccepting enables or disables the accepting of new connections.
	// While disabled, new connections wait in the backlog of the operating
	// system.  It must not block.
	SetAccepting(ctx context.Context, ok bool)

	// IsAccepting returns true if the connector accepts new connections.
	IsAccepting() (ok bool)

	// Scheduler returns the scheduler of the connector.  s is never nil.
	Scheduler() (s sched.Scheduler)

	// AddAcceptListener adds l to the listeners that are notified about every
	// accepted connection.
	AddAcceptListener(l AcceptListener)

	// RemoveAcceptListener removes l from the listeners.  It does nothing if l
	// has not been added.
	RemoveAcceptListener(l AcceptListener)
}

// AcceptListener is notified about the stages of accepting a connection.
// Implementations must be safe for concurrent use and must not block.
type AcceptListener interface {
	// OnAccepting is called when a new connection has been taken from the
	// backlog, before any handshake.  It is called from the accept loop, so
	// the connector does not accept the next connection until it returns.
	OnAccepting(ctx context.Context, conn net.Conn)

	// OnAccepted is called when the handshake of conn has been completed.  ep
	// is the endpoint that is passed to the handler, which may be conn itself.
	OnAccepted(ctx context.Context, conn, ep net.Conn)

	// OnAcceptFailed is called when the handshake of conn has failed.
	OnAcceptFailed(ctx context.Context, conn net.Conn, err error)
}

// Server is a set of connectors.
type Server interface {
	// Connectors returns the current connectors of the server.  conns must not
	// be modified.
	Connectors() (conns []Connector)
}

// Handler serves an accepted endpoint.
type Handler interface {
	// ServeConn serves ep until it is done.  ep is closed by the connector
	// after ServeConn returns.
	ServeConn(ctx context.Context, ep net.Conn) (err error)
}

// HandlerFunc is a function that implements the [Handler] interface.
type HandlerFunc func(ctx context.Context, ep net.Conn) (err error)

// type check
var _ Handler = HandlerFunc(nil)

// ServeConn implements the [Handler] interface for HandlerFunc.
func (f HandlerFunc) ServeConn(ctx context.Context, ep net.Conn) (err error) {
	return f(ctx, ep)
}

// EmptyAcceptListener is an [AcceptListener] that does nothing.
type EmptyAcceptListener struct{}

// type check
var _ AcceptListener = EmptyAcceptListener{}

// OnAccepting implements the [AcceptListener] interface for
// EmptyAcceptListener.
func (EmptyAcceptListener) OnAccepting(_ context.Context, _ net.Conn) {}

// OnAccepted implements the [AcceptListener] interface for
// EmptyAcceptListener.
func (EmptyAcceptListener) OnAccepted(_ context.Context, _, _ net.Conn) {}

// OnAcceptFailed implements the [AcceptListener] interface for
// EmptyAcceptListener.
func (EmptyAcceptListener) OnAcceptFailed(_ context.Context, _ net.Conn, _ error) {}
