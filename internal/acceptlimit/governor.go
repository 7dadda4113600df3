package acceptlimit

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/AdguardTeam/AcceptGuard/internal/connector"
)

// governor contains the connector resolution and the state shared by the
// governors.
//
// The state is protected by mu.  The calls into the connectors and their
// schedulers are made under toggleMu, which is locked before mu is unlocked,
// so that they happen in the order of the decisions while mu is free.  See
// [governor.handOff].
type governor struct {
	logger  *slog.Logger
	metrics Metrics

	// server, if not nil, is used to resolve the connectors on every start.
	server connector.Server

	// configured are the connectors set in the configuration.  It is only
	// used if server is nil.
	configured []connector.Connector

	// toggleMu serializes the calls to the controllers and the scheduler.
	toggleMu *sync.Mutex

	// mu protects controllers, limiting, and started, as well as the state of
	// the embedding governor.
	mu *sync.Mutex

	// controllers are the resolved connectors.  The slice is never modified
	// in place, so that it can be used after mu is unlocked.
	controllers []connector.Controller

	name     string
	limiting bool
	started  bool
}

// newGovernor returns a new properly initialized *governor.
func newGovernor(
	l *slog.Logger,
	m Metrics,
	srv connector.Server,
	conns []connector.Connector,
	name string,
) (g *governor) {
	if m == nil {
		m = EmptyMetrics{}
	}

	return &governor{
		logger:     l,
		metrics:    m,
		server:     srv,
		configured: slices.Clone(conns),
		toggleMu:   &sync.Mutex{},
		mu:         &sync.Mutex{},
		name:       name,
	}
}

// handOff locks toggleMu and unlocks mu.  g.mu must be locked.  The caller
// must unlock g.toggleMu after making the external calls.
func (g *governor) handOff() {
	g.toggleMu.Lock()
	g.mu.Unlock()
}

// resolve returns the controllers among the connectors of the server or the
// configured ones.  Connectors that cannot be controlled are logged and
// excluded.
func (g *governor) resolve(ctx context.Context) (ctrls []connector.Controller) {
	conns := g.configured
	if g.server != nil {
		conns = g.server.Connectors()
	}

	for _, conn := range conns {
		ctrl, ok := conn.(connector.Controller)
		if !ok {
			g.logger.WarnContext(
				ctx,
				"connector cannot be controlled; accepts not limited",
				"connector", conn.Name(),
			)

			continue
		}

		ctrls = append(ctrls, ctrl)
	}

	return ctrls
}

// start resolves the controllers, registers self on them, and resets the
// limiting state.  If accepting had been suspended, it is resumed.
func (g *governor) start(ctx context.Context, self connector.AcceptListener) (err error) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()

		return ErrAlreadyStarted
	}

	ctrls := g.resolve(ctx)
	wasLimiting := g.limiting

	g.controllers = ctrls
	g.limiting = false
	g.started = true

	g.handOff()
	defer g.toggleMu.Unlock()

	for _, c := range ctrls {
		c.AddAcceptListener(self)
	}

	if wasLimiting {
		setAccepting(ctx, ctrls, true)
	}

	g.metrics.SetLimiting(ctx, g.name, false)

	g.logger.InfoContext(ctx, "started", "connectors", controllerNames(ctrls))

	return nil
}

// shutdown deregisters self from the controllers and, if the governor is bound
// to a server, forgets them.  It does not change the limiting state.
func (g *governor) shutdown(ctx context.Context, self connector.AcceptListener) (err error) {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()

		return ErrNotStarted
	}

	ctrls := g.controllers
	if g.server != nil {
		g.controllers = nil
	}

	g.started = false

	g.handOff()
	defer g.toggleMu.Unlock()

	for _, c := range ctrls {
		c.RemoveAcceptListener(self)
	}

	g.logger.InfoContext(ctx, "shut down")

	return nil
}

// suspend disables accepting on ctrls.  g.toggleMu must be locked.
func (g *governor) suspend(ctx context.Context, ctrls []connector.Controller, n, limit int) {
	g.logger.WarnContext(ctx, "suspending accepts", "current", n, "limit", limit)

	g.metrics.IncrementSuspensions(ctx, g.name)
	g.metrics.SetLimiting(ctx, g.name, true)

	setAccepting(ctx, ctrls, false)
}

// resume enables accepting on ctrls.  g.toggleMu must be locked.
func (g *governor) resume(ctx context.Context, ctrls []connector.Controller, n, limit int) {
	g.logger.InfoContext(ctx, "resuming accepts", "current", n, "limit", limit)

	g.metrics.SetLimiting(ctx, g.name, false)

	setAccepting(ctx, ctrls, true)
}

// status fills the common fields of st.  g.mu must be locked.
func (g *governor) status(st *Status) {
	st.Name = g.name
	st.Connectors = controllerNames(g.controllers)
	st.Limiting = g.limiting
	st.Started = g.started
}
