package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/acceptlimit"
	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/AcceptGuard/internal/debugsvc"
	"github.com/AdguardTeam/AcceptGuard/internal/errcoll"
	"github.com/AdguardTeam/AcceptGuard/internal/metrics"
	"github.com/AdguardTeam/AcceptGuard/internal/sched"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/prometheus/client_golang/prometheus"
)

// builder contains the logic of configuring and combining together AcceptGuard
// entities.
//
// NOTE:  Keep method definitions in the rough order in which they are intended
// to be called.
type builder struct {
	// The fields below are initialized immediately on construction.  Keep them
	// sorted.

	baseLogger     *slog.Logger
	conf           *configuration
	env            *environment
	errColl        errcoll.Interface
	logger         *slog.Logger
	promGatherer   prometheus.Gatherer
	promRegisterer prometheus.Registerer
	sigHdlr        *service.SignalHandler

	// The fields below are initialized later by calling the builder's methods.
	// Keep them sorted.

	connectorMtrc *metrics.Connector
	connectors    *connector.Group
	governorMtrc  *metrics.AcceptLimit
	governors     []acceptlimit.Governor
	scheduler     *sched.Timer
}

// builderConfig contains the initial configuration for the builder.
type builderConfig struct {
	// envs contains the environment variables for the builder.  It must be
	// valid and must not be nil.
	envs *environment

	// conf contains the configuration from the configuration file for the
	// builder.  It must be valid and must not be nil.
	conf *configuration

	// baseLogger is used to create loggers for other entities.  It should not
	// have a prefix and must not be nil.
	baseLogger *slog.Logger

	// errColl is used to collect errors in the entities.  It must not be nil.
	errColl errcoll.Interface
}

// shutdownTimeout is the default shutdown timeout for all services.
const shutdownTimeout = 5 * time.Second

// newBuilder returns a new properly initialized builder.  c must not be nil.
func newBuilder(c *builderConfig) (b *builder) {
	return &builder{
		baseLogger:     c.baseLogger,
		conf:           c.conf,
		env:            c.envs,
		errColl:        c.errColl,
		logger:         c.baseLogger.With(slogutil.KeyPrefix, "builder"),
		promGatherer:   prometheus.DefaultGatherer,
		promRegisterer: prometheus.DefaultRegisterer,
		sigHdlr: service.NewSignalHandler(&service.SignalHandlerConfig{
			Logger:          c.baseLogger.With(slogutil.KeyPrefix, service.SignalHandlerPrefix),
			ShutdownTimeout: shutdownTimeout,
		}),
	}
}

// initMetrics registers the metrics of the connectors and the governors.
func (b *builder) initMetrics(ctx context.Context) (err error) {
	b.connectorMtrc, err = metrics.NewConnector(metrics.Namespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("registering connector metrics: %w", err)
	}

	b.governorMtrc, err = metrics.NewAcceptLimit(metrics.Namespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("registering accept limit metrics: %w", err)
	}

	b.logger.DebugContext(ctx, "initialized metrics")

	return nil
}

// initScheduler initializes and starts the scheduler of the connectors.
func (b *builder) initScheduler(ctx context.Context) (err error) {
	b.scheduler = sched.NewTimer(&sched.TimerConfig{
		Logger:  b.baseLogger.With(slogutil.KeyPrefix, "sched"),
		ErrColl: b.errColl,
	})

	err = b.scheduler.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	b.sigHdlr.AddService(b.scheduler)

	b.logger.DebugContext(ctx, "initialized scheduler")

	return nil
}

// initConnectors initializes the connectors.  They are started by
// [builder.startConnectors].
//
// The following methods must be called before this one:
//   - [builder.initMetrics]
//   - [builder.initScheduler]
func (b *builder) initConnectors(ctx context.Context) (err error) {
	b.connectors = connector.NewGroup(b.baseLogger.With(slogutil.KeyPrefix, "connectors"))

	for i, c := range b.conf.Connectors {
		var conn *connector.TCP
		conn, err = c.toInternal(b.baseLogger, b.errColl, b.connectorMtrc, b.scheduler)
		if err != nil {
			return fmt.Errorf("connectors: at index %d: %w", i, err)
		}

		b.connectors.Add(conn)
	}

	b.logger.DebugContext(ctx, "initialized connectors", "num", len(b.conf.Connectors))

	return nil
}

// initGovernors initializes and starts the accept governors.  The governors are
// started before the connectors, so that they see the first accepts.
//
// The following methods must be called before this one:
//   - [builder.initConnectors]
//   - [builder.initMetrics]
func (b *builder) initGovernors(ctx context.Context) (err error) {
	rateLimit, err := b.conf.AcceptRateLimit.toInternal(
		b.baseLogger,
		b.governorMtrc,
		b.connectors,
	)
	if err != nil {
		return fmt.Errorf("initializing accept rate limit: %w", err)
	} else if rateLimit != nil {
		b.governors = append(b.governors, rateLimit)
	}

	limit, err := b.conf.AcceptLimit.toInternal(b.baseLogger, b.governorMtrc, b.connectors)
	if err != nil {
		return fmt.Errorf("initializing accept limit: %w", err)
	} else if limit != nil {
		b.governors = append(b.governors, limit)
	}

	for _, g := range b.governors {
		err = g.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting %s: %w", g.Status().Name, err)
		}

		b.sigHdlr.AddService(g)
	}

	b.logger.DebugContext(ctx, "initialized governors", "num", len(b.governors))

	return nil
}

// mustStartConnectors starts the connectors and registers them in the signal
// handler.  The connectors are considered critical, so it panics instead of
// returning an error.
//
// [builder.initGovernors] must be called before this one.
func (b *builder) mustStartConnectors(ctx context.Context) {
	err := b.connectors.Start(ctx)
	if err != nil {
		panic(fmt.Errorf("starting connectors: %w", err))
	}

	b.sigHdlr.AddService(b.connectors)

	b.logger.DebugContext(ctx, "started connectors")
}

// mustInitDebugSvc initializes, starts, and registers the debug service.  The
// debug HTTP service is considered critical, so it panics instead of returning
// an error.
//
// [builder.initGovernors] must be called before this one.
func (b *builder) mustInitDebugSvc(ctx context.Context) {
	debugSvc := debugsvc.New(b.env.debugConf(b.baseLogger, b.promGatherer, b.governors))

	// The debug HTTP service is considered critical, so its Start method panics
	// instead of returning an error.
	_ = debugSvc.Start(context.WithoutCancel(ctx))

	b.sigHdlr.AddService(debugSvc)

	b.logger.DebugContext(ctx, "initialized debug")
}

// handleSignals blocks and processes signals from the OS.  status is
// [osutil.ExitCodeSuccess] on success and [osutil.ExitCodeFailure] on error.
//
// handleSignals must not be called concurrently with any other methods.
func (b *builder) handleSignals(ctx context.Context) (code osutil.ExitCode) {
	return b.sigHdlr.Handle(ctx)
}
