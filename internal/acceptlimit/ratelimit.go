package acceptlimit

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/AcceptGuard/internal/ratestat"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// RateLimitConfig is the configuration structure for a *RateLimit.
type RateLimitConfig struct {
	// Logger is used to log the operation of the governor.  It must not be
	// nil.
	Logger *slog.Logger

	// Metrics is used for the collection of the governor statistics.  If nil,
	// [EmptyMetrics] is used.
	Metrics Metrics

	// Clock is used to get the time of the accepts.  If nil,
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

	// Period is the length of the sliding window as well as the interval of
	// the rechecks.  It must be positive.
	Period time.Duration

	// MaxRate is the maximum number of accepts within Period.  It must be
	// positive.
	MaxRate int
}

// type check
var _ validate.Interface = (*RateLimitConfig)(nil)

// Validate implements the [validate.Interface] interface for *RateLimitConfig.
func (c *RateLimitConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("Logger", c.Logger),
		validate.NotEmpty("Name", c.Name),
		validate.Positive("Period", c.Period),
		validate.Positive("MaxRate", c.MaxRate),
		validateTargets(c.Server, c.Connectors),
	}

	return errors.Join(errs...)
}

// RateLimit is a [Governor] that suspends accepting on all of its connectors
// when the rate of accepts exceeds the maximum.  Accepting is only resumed by a
// recheck scheduled on the scheduler of the first connector, which runs every
// period until it sees the rate at or below the maximum.
//
// Only the attempts to accept count toward the rate.  Neither completed
// handshakes nor failures affect it.
type RateLimit struct {
	*governor

	stat *ratestat.Statistic

	// suspension is the number of the current suspension.  A recheck
	// scheduled for an earlier one does nothing.  It is protected by mu.
	suspension uint64

	maxRate int
}

// NewRateLimit returns a new properly initialized *RateLimit.
func NewRateLimit(c *RateLimitConfig) (l *RateLimit, err error) {
	err = c.Validate()
	if err != nil {
		return nil, errors.Annotate(err, "accept rate limit: %w")
	}

	return &RateLimit{
		governor: newGovernor(c.Logger, c.Metrics, c.Server, c.Connectors, c.Name),
		stat: ratestat.New(&ratestat.Config{
			Clock:  c.Clock,
			Period: c.Period,
		}),
		maxRate: c.MaxRate,
	}, nil
}

// type check
var _ Governor = (*RateLimit)(nil)

// Start implements the [service.Interface] interface for *RateLimit.
func (l *RateLimit) Start(ctx context.Context) (err error) {
	return l.start(ctx, l)
}

// Shutdown implements the [service.Interface] interface for *RateLimit.  A
// pending recheck is not cancelled.
func (l *RateLimit) Shutdown(ctx context.Context) (err error) {
	return l.shutdown(ctx, l)
}

// OnAccepting implements the [connector.AcceptListener] interface for
// *RateLimit.  If the rate exceeds the maximum, accepting is suspended before
// it returns.
func (l *RateLimit) OnAccepting(ctx context.Context, _ net.Conn) {
	rate := l.stat.Record()
	l.metrics.SetCurrent(ctx, l.name, rate)

	if rate <= l.maxRate {
		return
	}

	l.mu.Lock()
	if l.limiting || len(l.controllers) == 0 {
		l.mu.Unlock()

		return
	}

	l.limiting = true
	l.suspension++
	ctrls, susp := l.controllers, l.suspension

	l.handOff()
	defer l.toggleMu.Unlock()

	l.suspend(ctx, ctrls, rate, l.maxRate)

	// Suspend first, so that accepting is disabled before the recheck can
	// run.
	l.scheduleRecheck(ctx, ctrls, susp)
}

// scheduleRecheck schedules the recheck for suspension susp on the scheduler of
// the first controller.  l.toggleMu must be locked.
func (l *RateLimit) scheduleRecheck(ctx context.Context, ctrls []connector.Controller, susp uint64) {
	ctrls[0].Scheduler().Schedule(ctx, func(ctx context.Context) {
		l.recheck(ctx, susp)
	}, l.stat.Period())
}

// OnAccepted implements the [connector.AcceptListener] interface for
// *RateLimit.
func (l *RateLimit) OnAccepted(_ context.Context, _, _ net.Conn) {}

// OnAcceptFailed implements the [connector.AcceptListener] interface for
// *RateLimit.
func (l *RateLimit) OnAcceptFailed(_ context.Context, _ net.Conn, _ error) {}

// recheck resumes accepting if the rate is at or below the maximum, and
// schedules itself again otherwise.  It does nothing if the governor is not
// limiting, has no controllers, or has been restarted and suspended again since
// suspension susp.
func (l *RateLimit) recheck(ctx context.Context, susp uint64) {
	rate := l.stat.Rate()
	l.metrics.SetCurrent(ctx, l.name, rate)

	l.mu.Lock()
	if !l.limiting || len(l.controllers) == 0 || susp != l.suspension {
		l.mu.Unlock()

		l.logger.DebugContext(ctx, "stale recheck", "rate", rate)

		return
	}

	ctrls := l.controllers
	if rate > l.maxRate {
		l.handOff()
		defer l.toggleMu.Unlock()

		l.logger.DebugContext(ctx, "still limiting", "rate", rate, "limit", l.maxRate)

		l.scheduleRecheck(ctx, ctrls, susp)

		return
	}

	l.limiting = false

	l.handOff()
	defer l.toggleMu.Unlock()

	l.resume(ctx, ctrls, rate, l.maxRate)
}

// Age shifts the samples of the statistic back by d.  It must only be used in
// tests and diagnostics.
func (l *RateLimit) Age(d time.Duration) {
	l.stat.Age(d)
}

// Limiting returns true if the governor has suspended accepting.
func (l *RateLimit) Limiting() (ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.limiting
}

// Status implements the [Governor] interface for *RateLimit.
func (l *RateLimit) Status() (st *Status) {
	samples := l.stat.Samples()
	ages := make([]int64, 0, len(samples))
	for _, s := range samples {
		ages = append(ages, s.Milliseconds())
	}

	st = &Status{
		Kind:    KindRateLimit,
		Period:  l.stat.Period().String(),
		Samples: ages,
		Limit:   l.maxRate,
		Current: l.stat.Rate(),
		Max:     l.stat.Max(),
		Count:   l.stat.Count(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.status(st)

	return st
}

// String implements the [fmt.Stringer] interface for *RateLimit.
func (l *RateLimit) String() (s string) {
	return "accept rate limit " + l.name + ": " + l.stat.String()
}
