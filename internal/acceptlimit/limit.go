package acceptlimit

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// LimitConfig is the configuration structure for a *Limit.
type LimitConfig struct {
	// Logger is used to log the operation of the governor.  It must not be
	// nil.
	Logger *slog.Logger

	// Metrics is used for the collection of the governor statistics.  If nil,
	// [EmptyMetrics] is used.
	Metrics Metrics

	// Clock is used to get the start of the in-flight windows.  If nil,
	// [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// Server, if not nil, is used to resolve the connectors on every start.
	// It must not be set together with Connectors.
	Server connector.Server

	// Connectors are the governed connectors.  They must not be set together
	// with Server.
	Connectors []connector.Connector

	// Name is used for logging and metrics.  It must not be empty.
	Name string

	// Period is only used in the logs and the status.  It must be positive.
	Period time.Duration

	// MaxAccepts is the maximum number of accepts in flight.  It must be
	// positive.
	MaxAccepts int
}

// type check
var _ validate.Interface = (*LimitConfig)(nil)

// Validate implements the [validate.Interface] interface for *LimitConfig.
func (c *LimitConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("Logger", c.Logger),
		validate.NotEmpty("Name", c.Name),
		validate.Positive("Period", c.Period),
		validate.Positive("MaxAccepts", c.MaxAccepts),
		validateTargets(c.Server, c.Connectors),
	}

	return errors.Join(errs...)
}

// Limit is a [Governor] that tracks the accepts in flight, that is the
// connections which have been taken from the backlog but have neither completed
// nor failed the handshake.
//
// Accepting is suspended when the number of accepts in flight exceeds the
// maximum and resumed as soon as it is at or below the maximum again.  The
// decisions only depend on the size of the in-flight set at the moment of a
// callback, and no rechecks are scheduled.
type Limit struct {
	*governor

	clock timeutil.Clock

	// inFlight is protected by mu.
	inFlight *container.MapSet[net.Conn]

	// since is the time of the first accept in flight.  It is protected by mu.
	since time.Time

	period     time.Duration
	maxAccepts int
}

// NewLimit returns a new properly initialized *Limit.
func NewLimit(c *LimitConfig) (l *Limit, err error) {
	err = c.Validate()
	if err != nil {
		return nil, errors.Annotate(err, "accept limit: %w")
	}

	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	return &Limit{
		governor:   newGovernor(c.Logger, c.Metrics, c.Server, c.Connectors, c.Name),
		clock:      clock,
		inFlight:   container.NewMapSet[net.Conn](),
		period:     c.Period,
		maxAccepts: c.MaxAccepts,
	}, nil
}

// type check
var _ Governor = (*Limit)(nil)

// Start implements the [service.Interface] interface for *Limit.
func (l *Limit) Start(ctx context.Context) (err error) {
	return l.start(ctx, l)
}

// Shutdown implements the [service.Interface] interface for *Limit.
func (l *Limit) Shutdown(ctx context.Context) (err error) {
	return l.shutdown(ctx, l)
}

// OnAccepting implements the [connector.AcceptListener] interface for *Limit.
func (l *Limit) OnAccepting(ctx context.Context, conn net.Conn) {
	l.mu.Lock()

	now := l.clock.Now()
	if l.inFlight.Len() == 0 {
		l.since = now
	}

	l.inFlight.Add(conn)
	n := l.inFlight.Len()
	l.metrics.SetCurrent(ctx, l.name, n)

	l.logger.DebugContext(
		ctx,
		"accepting",
		"in_flight", n,
		"since", now.Sub(l.since),
		"limit", l.maxAccepts,
		"raddr", connString(conn),
	)

	if n <= l.maxAccepts || l.limiting || len(l.controllers) == 0 {
		l.mu.Unlock()

		return
	}

	l.limiting = true
	ctrls := l.controllers

	l.handOff()
	defer l.toggleMu.Unlock()

	l.suspend(ctx, ctrls, n, l.maxAccepts)
}

// OnAccepted implements the [connector.AcceptListener] interface for *Limit.
func (l *Limit) OnAccepted(ctx context.Context, conn, _ net.Conn) {
	l.release(ctx, conn)
}

// OnAcceptFailed implements the [connector.AcceptListener] interface for
// *Limit.
func (l *Limit) OnAcceptFailed(ctx context.Context, conn net.Conn, _ error) {
	l.release(ctx, conn)
}

// release removes conn from the accepts in flight and resumes accepting if
// the governor is limiting and the number of accepts in flight is at or below
// the maximum.
func (l *Limit) release(ctx context.Context, conn net.Conn) {
	l.mu.Lock()

	l.inFlight.Delete(conn)
	n := l.inFlight.Len()
	l.metrics.SetCurrent(ctx, l.name, n)

	if !l.limiting || n > l.maxAccepts {
		l.mu.Unlock()

		return
	}

	l.limiting = false
	ctrls := l.controllers

	l.handOff()
	defer l.toggleMu.Unlock()

	l.resume(ctx, ctrls, n, l.maxAccepts)
}

// InFlight returns the number of accepts in flight.
func (l *Limit) InFlight() (n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inFlight.Len()
}

// Limiting returns true if the governor has suspended accepting.
func (l *Limit) Limiting() (ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.limiting
}

// Status implements the [Governor] interface for *Limit.
func (l *Limit) Status() (st *Status) {
	st = &Status{
		Kind:   KindLimit,
		Period: l.period.String(),
		Limit:  l.maxAccepts,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st.Current = l.inFlight.Len()
	l.status(st)

	return st
}
