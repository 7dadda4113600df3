// Package acceptlimit contains the accept governors, which observe the accept
// events of connectors and suspend or resume their accepting of new
// connections.
package acceptlimit

import (
	"context"
	"net"

	"github.com/AdguardTeam/AcceptGuard/internal/connector"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
)

const (
	// ErrAlreadyStarted is returned when a governor is started twice.
	ErrAlreadyStarted errors.Error = "governor already started"

	// ErrNotStarted is returned when a governor that has not been started is
	// shut down.
	ErrNotStarted errors.Error = "governor not started"

	// ErrNoTargets is returned when neither a server nor connectors are set in
	// the configuration of a governor.
	ErrNoTargets errors.Error = "either server or connectors must be set"

	// ErrBothTargets is returned when both a server and connectors are set in
	// the configuration of a governor.
	ErrBothTargets errors.Error = "server and connectors are mutually exclusive"
)

// Kind is the kind of a governor.
type Kind string

// Valid kinds.
const (
	KindRateLimit Kind = "accept_rate_limit"
	KindLimit     Kind = "accept_limit"
)

// Governor is the common interface of the accept governors.
type Governor interface {
	service.Interface
	connector.AcceptListener

	// Status returns the current state of the governor.  st is never nil.
	Status() (st *Status)
}

// Status is a snapshot of the state of a governor.
type Status struct {
	// Name is the name of the governor.
	Name string `json:"name"`

	// Kind is the kind of the governor.
	Kind Kind `json:"kind"`

	// Period is the period of the governor, as a human-readable duration.
	Period string `json:"period"`

	// Connectors are the names of the connectors the governor controls.
	Connectors []string `json:"connectors"`

	// Samples are the ages of the accepts within the current window, in
	// milliseconds, oldest first.  It is only set for [KindRateLimit].
	Samples []int64 `json:"samples,omitempty"`

	// Limit is the maximum rate or the maximum number of accepts in flight.
	Limit int `json:"limit"`

	// Current is the current rate or the current number of accepts in flight.
	Current int `json:"current"`

	// Max is the maximum rate since the last reset.  It is only set for
	// [KindRateLimit].
	Max int `json:"max,omitempty"`

	// Count is the total number of accepts since the last reset.  It is only
	// set for [KindRateLimit].
	Count uint64 `json:"count,omitempty"`

	// Limiting is true if the governor has suspended accepting.
	Limiting bool `json:"limiting"`

	// Started is true if the governor is started.
	Started bool `json:"started"`
}

// validateTargets returns an error if not exactly one of srv and conns is set.
func validateTargets(srv connector.Server, conns []connector.Connector) (err error) {
	switch {
	case srv == nil && len(conns) == 0:
		return ErrNoTargets
	case srv != nil && len(conns) > 0:
		return ErrBothTargets
	default:
		return nil
	}
}

// setAccepting calls SetAccepting with ok on every controller in ctrls.
func setAccepting(ctx context.Context, ctrls []connector.Controller, ok bool) {
	for _, c := range ctrls {
		c.SetAccepting(ctx, ok)
	}
}

// controllerNames returns the names of ctrls.
func controllerNames(ctrls []connector.Controller) (names []string) {
	names = make([]string, 0, len(ctrls))
	for _, c := range ctrls {
		names = append(names, c.Name())
	}

	return names
}

// connString returns the remote address of conn for logging.
func connString(conn net.Conn) (s string) {
	if conn == nil {
		return "<nil>"
	}

	addr := conn.RemoteAddr()
	if addr == nil {
		return "<unknown>"
	}

	return addr.String()
}
