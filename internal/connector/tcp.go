package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/errcoll"
	"github.com/AdguardTeam/AcceptGuard/internal/sched"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// TCPConfig is the configuration structure for a *TCP.
type TCPConfig struct {
	// Logger is used to log the operation of the connector.  It must not be
	// nil.
	Logger *slog.Logger

	// ErrColl is used to collect the errors of the accept loop and the panics
	// of the listeners and handler.  It must not be nil.
	ErrColl errcoll.Interface

	// Metrics is used for the collection of the connector statistics.  If nil,
	// [EmptyMetrics] is used.
	Metrics Metrics

	// Scheduler is returned by [TCP.Scheduler].  It must not be nil.
	Scheduler sched.Scheduler

	// ListenConfig is used to open the listener.  If nil, the result of
	// [NewListenConfig] with default options is used.
	ListenConfig ListenConfig

	// Handshaker, if not nil, is used to perform the handshake of every
	// accepted connection.
	Handshaker Handshaker

	// Handler serves the endpoints.  It must not be nil.
	Handler Handler

	// Name is used for logging and metrics.  It must not be empty.
	Name string

	// Addr is the TCP address to listen on.
	Addr string

	// HandshakeTimeout is the maximum duration of a handshake.  Zero means no
	// timeout.
	HandshakeTimeout time.Duration
}

// tempErrDelay is the pause of the accept loop after a temporary error.
const tempErrDelay = 5 * time.Millisecond

// TCP is a TCP [Controller].  While accepting is disabled, its accept loop does
// not call Accept, so new connections wait in the backlog of the operating
// system.
type TCP struct {
	logger       *slog.Logger
	errColl      errcoll.Interface
	metrics      Metrics
	scheduler    sched.Scheduler
	listenConfig ListenConfig
	handshaker   Handshaker
	handler      Handler

	// mu protects listener, conns, accepting, and started.
	mu *sync.Mutex

	// cond is signaled when accepting or started change.  Its locker is mu.
	cond *sync.Cond

	listener net.Listener

	// conns are the raw connections that are currently being handled.
	conns *container.MapSet[net.Conn]

	// listenersMu protects listeners.  The slice is never modified in place, so
	// that it can be used without the lock after reading.
	listenersMu *sync.RWMutex
	listeners   []AcceptListener

	// wg tracks the accept loop and the connection handlers.
	wg *sync.WaitGroup

	// tempErrLog throttles the logging of temporary accept errors.
	tempErrLog *rate.Sometimes

	name             string
	addr             string
	handshakeTimeout time.Duration

	accepting bool
	started   bool
}

// NewTCP returns a new properly initialized *TCP.  c must not be nil.
func NewTCP(c *TCPConfig) (conn *TCP) {
	mu := &sync.Mutex{}

	conn = &TCP{
		logger:           c.Logger,
		errColl:          c.ErrColl,
		metrics:          c.Metrics,
		scheduler:        c.Scheduler,
		listenConfig:     c.ListenConfig,
		handshaker:       c.Handshaker,
		handler:          c.Handler,
		mu:               mu,
		cond:             sync.NewCond(mu),
		conns:            container.NewMapSet[net.Conn](),
		listenersMu:      &sync.RWMutex{},
		wg:               &sync.WaitGroup{},
		tempErrLog:       &rate.Sometimes{Interval: 1 * time.Second},
		name:             c.Name,
		addr:             c.Addr,
		handshakeTimeout: c.HandshakeTimeout,
		accepting:        true,
	}

	if conn.metrics == nil {
		conn.metrics = EmptyMetrics{}
	}

	if conn.listenConfig == nil {
		conn.listenConfig = NewListenConfig(nil)
	}

	return conn
}

// type check
var _ Controller = (*TCP)(nil)

// Name implements the [Controller] interface for *TCP.
func (c *TCP) Name() (name string) {
	return c.name
}

// String implements the [fmt.Stringer] interface for *TCP.
func (c *TCP) String() (s string) {
	return fmt.Sprintf("tcp connector %q at %s", c.name, c.addr)
}

// LocalAddr returns the address of the listener or nil, if the connector is
// not started.
func (c *TCP) LocalAddr() (addr net.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener == nil {
		return nil
	}

	return c.listener.Addr()
}

// SetAccepting implements the [Controller] interface for *TCP.
func (c *TCP) SetAccepting(ctx context.Context, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accepting == ok {
		return
	}

	c.accepting = ok
	c.metrics.SetAccepting(ctx, c.name, ok)
	c.logger.DebugContext(ctx, "accepting changed", "accepting", ok)

	c.cond.Broadcast()
}

// IsAccepting implements the [Controller] interface for *TCP.
func (c *TCP) IsAccepting() (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.accepting
}

// Scheduler implements the [Controller] interface for *TCP.
func (c *TCP) Scheduler() (s sched.Scheduler) {
	return c.scheduler
}

// AddAcceptListener implements the [Controller] interface for *TCP.
func (c *TCP) AddAcceptListener(l AcceptListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.listeners = append(slices.Clip(c.listeners), l)
}

// RemoveAcceptListener implements the [Controller] interface for *TCP.
func (c *TCP) RemoveAcceptListener(l AcceptListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	i := slices.Index(c.listeners, l)
	if i < 0 {
		return
	}

	c.listeners = slices.Delete(slices.Clone(c.listeners), i, i+1)
}

// type check
var _ service.Interface = (*TCP)(nil)

// Start implements the [service.Interface] interface for *TCP.  It opens the
// listener and starts the accept loop.  Accepting is enabled on every start.
func (c *TCP) Start(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "starting %s: %w", c.name) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}

	l, err := c.listenConfig.Listen(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}

	c.listener = l
	c.started = true
	c.accepting = true
	c.metrics.SetAccepting(ctx, c.name, true)

	loopCtx := context.WithoutCancel(ctx)
	c.wg.Go(func() {
		c.serve(loopCtx, l)
	})

	c.logger.InfoContext(ctx, "started", "addr", l.Addr())

	return nil
}

// Shutdown implements the [service.Interface] interface for *TCP.  It closes
// the listener and all connections being handled and waits for the handlers to
// return.
func (c *TCP) Shutdown(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "shutting down %s: %w", c.name) }()

	err = c.shutdown(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.InfoContext(ctx, "shut down")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for handlers: %w", context.Cause(ctx))
	}
}

// shutdown marks the connector as stopped, closes the listener and the
// connections, and wakes the accept loop.
func (c *TCP) shutdown(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return ErrNotStarted
	}

	c.started = false
	c.cond.Broadcast()

	err = c.listener.Close()
	if err != nil {
		c.logger.WarnContext(ctx, "closing listener", slogutil.KeyError, err)
	}

	c.listener = nil

	c.conns.Range(func(conn net.Conn) (cont bool) {
		closeErr := conn.Close()
		if closeErr != nil {
			c.logger.DebugContext(ctx, "closing conn", slogutil.KeyError, closeErr)
		}

		return true
	})

	return nil
}

// serve runs the accept loop until the connector is shut down.
func (c *TCP) serve(ctx context.Context, l net.Listener) {
	defer slogutil.RecoverAndLog(ctx, c.logger)

	for c.waitAccepting() {
		conn, err := l.Accept()
		if err != nil {
			if !c.isStarted() {
				return
			}

			if isTemporaryAcceptError(err) {
				c.tempErrLog.Do(func() {
					c.logger.WarnContext(ctx, "temporary accept error", slogutil.KeyError, err)
				})

				time.Sleep(tempErrDelay)

				continue
			}

			c.collect(ctx, "accepting", err)

			return
		}

		c.notifyAccepting(ctx, conn)

		if !c.track(conn) {
			c.notifyAcceptFailed(ctx, conn, net.ErrClosed)
			_ = conn.Close()

			return
		}

		c.wg.Go(func() {
			c.handle(ctx, conn)
		})
	}
}

// waitAccepting blocks while accepting is disabled.  ok is false if the
// connector has been shut down.
func (c *TCP) waitAccepting() (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.started && !c.accepting {
		c.cond.Wait()
	}

	return c.started
}

// isStarted returns true if the connector has not been shut down.
func (c *TCP) isStarted() (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.started
}

// track adds conn to the connections being handled.  ok is false if the
// connector has been shut down.
func (c *TCP) track(conn net.Conn) (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return false
	}

	c.conns.Add(conn)

	return true
}

// untrack removes conn from the connections being handled.
func (c *TCP) untrack(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns.Delete(conn)
}

// handle performs the handshake of conn, notifies the listeners, and passes
// the endpoint to the handler.
func (c *TCP) handle(ctx context.Context, conn net.Conn) {
	defer c.untrack(conn)
	defer c.recoverAndCollect(ctx, "handling conn")

	ep, err := c.handshake(ctx, conn)
	if err != nil {
		c.metrics.IncrementFailed(ctx, c.name)
		c.logger.DebugContext(ctx, "handshake failed", "raddr", conn.RemoteAddr(), slogutil.KeyError, err)
		c.notifyAcceptFailed(ctx, conn, err)

		_ = conn.Close()

		return
	}

	defer func() { _ = ep.Close() }()

	c.metrics.IncrementAccepted(ctx, c.name)
	c.notifyAccepted(ctx, conn, ep)

	err = c.handler.ServeConn(ctx, ep)
	if err != nil {
		c.logger.DebugContext(ctx, "serving conn", "raddr", conn.RemoteAddr(), slogutil.KeyError, err)
	}
}

// handshake performs the handshake of conn, if there is a handshaker.
func (c *TCP) handshake(ctx context.Context, conn net.Conn) (ep net.Conn, err error) {
	if c.handshaker == nil {
		return conn, nil
	}

	if c.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handshakeTimeout)
		defer cancel()

		err = conn.SetDeadline(time.Now().Add(c.handshakeTimeout))
		if err != nil {
			return nil, fmt.Errorf("setting handshake deadline: %w", err)
		}
	}

	ep, err = c.callHandshaker(ctx, conn)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	if c.handshakeTimeout > 0 {
		err = conn.SetDeadline(time.Time{})
		if err != nil {
			return nil, fmt.Errorf("resetting handshake deadline: %w", err)
		}
	}

	return ep, nil
}

// callHandshaker calls the handshaker and converts its panic into an error, so
// that the connection is still reported as failed to the listeners.  The panic
// is also reported.
func (c *TCP) callHandshaker(ctx context.Context, conn net.Conn) (ep net.Conn, err error) {
	defer func() {
		recErr := errors.FromRecovered(recover())
		if recErr == nil {
			return
		}

		c.collect(ctx, "handshaking", recErr)

		ep, err = nil, fmt.Errorf("handshake panic: %w", recErr)
	}()

	return c.handshaker.Handshake(ctx, conn)
}

// acceptListeners returns the current listeners.
func (c *TCP) acceptListeners() (ls []AcceptListener) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()

	return c.listeners
}

// notifyAccepting calls OnAccepting of every listener.
func (c *TCP) notifyAccepting(ctx context.Context, conn net.Conn) {
	for _, l := range c.acceptListeners() {
		c.callListener(ctx, func() { l.OnAccepting(ctx, conn) })
	}
}

// notifyAccepted calls OnAccepted of every listener.
func (c *TCP) notifyAccepted(ctx context.Context, conn, ep net.Conn) {
	for _, l := range c.acceptListeners() {
		c.callListener(ctx, func() { l.OnAccepted(ctx, conn, ep) })
	}
}

// notifyAcceptFailed calls OnAcceptFailed of every listener.
func (c *TCP) notifyAcceptFailed(ctx context.Context, conn net.Conn, err error) {
	for _, l := range c.acceptListeners() {
		c.callListener(ctx, func() { l.OnAcceptFailed(ctx, conn, err) })
	}
}

// callListener calls f and recovers its panic, so that a faulty listener never
// breaks the accept loop.
func (c *TCP) callListener(ctx context.Context, f func()) {
	defer c.recoverAndCollect(ctx, "calling accept listener")

	f()
}

// recoverAndCollect is a deferred helper that recovers a panic and reports it
// with msg.
func (c *TCP) recoverAndCollect(ctx context.Context, msg string) {
	err := errors.FromRecovered(recover())
	if err == nil {
		return
	}

	c.collect(ctx, msg, err)
}

// collect reports err with msg, tagging it with the name of the connector.
func (c *TCP) collect(ctx context.Context, msg string, err error) {
	errcoll.Collect(ctx, c.errColl, c.logger, msg, errcoll.NewTaggedError(err, errcoll.TagConnector, c.name))
}

// isTemporaryAcceptError returns true if err is an accept error after which
// the accept loop should continue.
func isTemporaryAcceptError(err error) (ok bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.ENOMEM)
}
