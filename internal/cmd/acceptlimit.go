package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/acceptlimit"
	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
)

// Names of the governors used in the logs and the metrics.
const (
	governorNameRateLimit = "accept_rate_limit"
	governorNameLimit     = "accept_limit"
)

// acceptRateLimitConfig is the configuration of the accept-rate governor.
type acceptRateLimitConfig struct {
	// Connectors are the names of the governed connectors.  If empty, all
	// connectors are governed.
	Connectors []string `yaml:"connectors"`

	// Period is the length of the sliding window.
	Period timeutil.Duration `yaml:"period"`

	// MaxRate is the maximum number of accepts within Period.
	MaxRate int `yaml:"max_rate"`

	// Enabled, if true, enables the governor.
	Enabled bool `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*acceptRateLimitConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *acceptRateLimitConfig.
func (c *acceptRateLimitConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	} else if !c.Enabled {
		return nil
	}

	return errors.Join(
		validate.Positive("period", c.Period),
		validate.Positive("max_rate", c.MaxRate),
	)
}

// toInternal returns a new accept-rate governor built from c or nil if c is
// disabled.  c must be valid.
func (c *acceptRateLimitConfig) toInternal(
	baseLogger *slog.Logger,
	mtrc acceptlimit.Metrics,
	srv connector.Server,
) (l *acceptlimit.RateLimit, err error) {
	if !c.Enabled {
		return nil, nil
	}

	conf := &acceptlimit.RateLimitConfig{
		Logger:  baseLogger.With(slogutil.KeyPrefix, governorNameRateLimit),
		Metrics: mtrc,
		Name:    governorNameRateLimit,
		Period:  time.Duration(c.Period),
		MaxRate: c.MaxRate,
	}

	conf.Server, conf.Connectors, err = governedTargets(srv, c.Connectors)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", governorNameRateLimit, err)
	}

	return acceptlimit.NewRateLimit(conf)
}

// acceptLimitConfig is the configuration of the accept-concurrency governor.
type acceptLimitConfig struct {
	// Connectors are the names of the governed connectors.  If empty, all
	// connectors are governed.
	Connectors []string `yaml:"connectors"`

	// Period is only used in the logs and the debug API.
	Period timeutil.Duration `yaml:"period"`

	// MaxAccepts is the maximum number of accepts in flight.
	MaxAccepts int `yaml:"max_accepts"`

	// Enabled, if true, enables the governor.
	Enabled bool `yaml:"enabled"`
}

// type check
var _ validate.Interface = (*acceptLimitConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *acceptLimitConfig.
func (c *acceptLimitConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	} else if !c.Enabled {
		return nil
	}

	return errors.Join(
		validate.Positive("period", c.Period),
		validate.Positive("max_accepts", c.MaxAccepts),
	)
}

// toInternal returns a new accept-concurrency governor built from c or nil if c
// is disabled.  c must be valid.
func (c *acceptLimitConfig) toInternal(
	baseLogger *slog.Logger,
	mtrc acceptlimit.Metrics,
	srv connector.Server,
) (l *acceptlimit.Limit, err error) {
	if !c.Enabled {
		return nil, nil
	}

	conf := &acceptlimit.LimitConfig{
		Logger:     baseLogger.With(slogutil.KeyPrefix, governorNameLimit),
		Metrics:    mtrc,
		Name:       governorNameLimit,
		Period:     time.Duration(c.Period),
		MaxAccepts: c.MaxAccepts,
	}

	conf.Server, conf.Connectors, err = governedTargets(srv, c.Connectors)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", governorNameLimit, err)
	}

	return acceptlimit.NewLimit(conf)
}

// governedTargets returns the targets of a governor.  If names is empty, the
// governor is bound to srv and resolves the connectors on every start.
// Otherwise, conns are the connectors of srv with the given names.
func governedTargets(
	srv connector.Server,
	names []string,
) (boundSrv connector.Server, conns []connector.Connector, err error) {
	if len(names) == 0 {
		return srv, nil, nil
	}

	byName := map[string]connector.Connector{}
	for _, conn := range srv.Connectors() {
		byName[conn.Name()] = conn
	}

	conns = make([]connector.Connector, 0, len(names))
	for _, name := range names {
		conn, ok := byName[name]
		if !ok {
			return nil, nil, fmt.Errorf("connector %q: %w", name, errors.ErrNoValue)
		}

		conns = append(conns, conn)
	}

	return nil, conns, nil
}
