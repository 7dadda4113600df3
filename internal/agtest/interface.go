package agtest

import (
	"context"
	"net"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/AcceptGuard/internal/errcoll"
	"github.com/AdguardTeam/AcceptGuard/internal/sched"
)

// Interface Mocks
//
// Keep entities within a module/package in alphabetic order.

// Package connector

// type check
var _ connector.AcceptListener = (*AcceptListener)(nil)

// AcceptListener is a [connector.AcceptListener] for tests.
type AcceptListener struct {
	OnOnAccepting    func(ctx context.Context, conn net.Conn)
	OnOnAccepted     func(ctx context.Context, conn, ep net.Conn)
	OnOnAcceptFailed func(ctx context.Context, conn net.Conn, err error)
}

// OnAccepting implements the [connector.AcceptListener] interface for
// *AcceptListener.
func (l *AcceptListener) OnAccepting(ctx context.Context, conn net.Conn) {
	l.OnOnAccepting(ctx, conn)
}

// OnAccepted implements the [connector.AcceptListener] interface for
// *AcceptListener.
func (l *AcceptListener) OnAccepted(ctx context.Context, conn, ep net.Conn) {
	l.OnOnAccepted(ctx, conn, ep)
}

// OnAcceptFailed implements the [connector.AcceptListener] interface for
// *AcceptListener.
func (l *AcceptListener) OnAcceptFailed(ctx context.Context, conn net.Conn, err error) {
	l.OnOnAcceptFailed(ctx, conn, err)
}

// type check
var _ connector.Connector = (*Connector)(nil)

// Connector is a [connector.Connector] that is not a [connector.Controller].
type Connector struct {
	OnName func() (name string)
}

// Name implements the [connector.Connector] interface for *Connector.
func (c *Connector) Name() (name string) {
	return c.OnName()
}

// type check
var _ connector.Metrics = (*ConnectorMetrics)(nil)

// ConnectorMetrics is a [connector.Metrics] for tests.
type ConnectorMetrics struct {
	OnIncrementAccepted func(ctx context.Context, name string)
	OnIncrementFailed   func(ctx context.Context, name string)
	OnSetAccepting      func(ctx context.Context, name string, ok bool)
}

// IncrementAccepted implements the [connector.Metrics] interface for
// *ConnectorMetrics.
func (m *ConnectorMetrics) IncrementAccepted(ctx context.Context, name string) {
	m.OnIncrementAccepted(ctx, name)
}

// IncrementFailed implements the [connector.Metrics] interface for
// *ConnectorMetrics.
func (m *ConnectorMetrics) IncrementFailed(ctx context.Context, name string) {
	m.OnIncrementFailed(ctx, name)
}

// SetAccepting implements the [connector.Metrics] interface for
// *ConnectorMetrics.
func (m *ConnectorMetrics) SetAccepting(ctx context.Context, name string, ok bool) {
	m.OnSetAccepting(ctx, name, ok)
}

// type check
var _ connector.Controller = (*Controller)(nil)

// Controller is a [connector.Controller] for tests.
type Controller struct {
	OnName                 func() (name string)
	OnSetAccepting         func(ctx context.Context, ok bool)
	OnIsAccepting          func() (ok bool)
	OnScheduler            func() (s sched.Scheduler)
	OnAddAcceptListener    func(l connector.AcceptListener)
	OnRemoveAcceptListener func(l connector.AcceptListener)
}

// Name implements the [connector.Controller] interface for *Controller.
func (c *Controller) Name() (name string) {
	return c.OnName()
}

// SetAccepting implements the [connector.Controller] interface for
// *Controller.
func (c *Controller) SetAccepting(ctx context.Context, ok bool) {
	c.OnSetAccepting(ctx, ok)
}

// IsAccepting implements the [connector.Controller] interface for
// *Controller.
func (c *Controller) IsAccepting() (ok bool) {
	return c.OnIsAccepting()
}

// Scheduler implements the [connector.Controller] interface for *Controller.
func (c *Controller) Scheduler() (s sched.Scheduler) {
	return c.OnScheduler()
}

// AddAcceptListener implements the [connector.Controller] interface for
// *Controller.
func (c *Controller) AddAcceptListener(l connector.AcceptListener) {
	c.OnAddAcceptListener(l)
}

// RemoveAcceptListener implements the [connector.Controller] interface for
// *Controller.
func (c *Controller) RemoveAcceptListener(l connector.AcceptListener) {
	c.OnRemoveAcceptListener(l)
}

// type check
var _ connector.Handler = (*Handler)(nil)

// Handler is a [connector.Handler] for tests.
type Handler struct {
	OnServeConn func(ctx context.Context, ep net.Conn) (err error)
}

// ServeConn implements the [connector.Handler] interface for *Handler.
func (h *Handler) ServeConn(ctx context.Context, ep net.Conn) (err error) {
	return h.OnServeConn(ctx, ep)
}

// type check
var _ connector.Server = (*Server)(nil)

// Server is a [connector.Server] for tests.
type Server struct {
	OnConnectors func() (conns []connector.Connector)
}

// Connectors implements the [connector.Server] interface for *Server.
func (s *Server) Connectors() (conns []connector.Connector) {
	return s.OnConnectors()
}

// Package errcoll

// type check
var _ errcoll.Interface = (*ErrorCollector)(nil)

// ErrorCollector is an [errcoll.Interface] for tests.
type ErrorCollector struct {
	OnCollect func(ctx context.Context, err error)
}

// Collect implements the [errcoll.Interface] interface for *ErrorCollector.
func (c *ErrorCollector) Collect(ctx context.Context, err error) {
	c.OnCollect(ctx, err)
}

// Package sched

// type check
var _ sched.Scheduler = (*Scheduler)(nil)

// Scheduler is a [sched.Scheduler] for tests.
type Scheduler struct {
	OnSchedule func(ctx context.Context, f func(ctx context.Context), delay time.Duration) (t sched.Task)
}

// Schedule implements the [sched.Scheduler] interface for *Scheduler.
func (s *Scheduler) Schedule(
	ctx context.Context,
	f func(ctx context.Context),
	delay time.Duration,
) (t sched.Task) {
	return s.OnSchedule(ctx, f, delay)
}

// type check
var _ sched.Task = (*Task)(nil)

// Task is a [sched.Task] for tests.
type Task struct {
	OnCancel func() (ok bool)
}

// Cancel implements the [sched.Task] interface for *Task.
func (t *Task) Cancel() (ok bool) {
	return t.OnCancel()
}
