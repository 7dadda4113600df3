package connector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
)

// Group is a [Server] that starts and shuts down its connectors together.
type Group struct {
	logger *slog.Logger

	// mu protects connectors.
	mu         *sync.RWMutex
	connectors []Connector
}

// NewGroup returns a new properly initialized *Group.  l must not be nil.
func NewGroup(l *slog.Logger, conns ...Connector) (g *Group) {
	return &Group{
		logger:     l,
		mu:         &sync.RWMutex{},
		connectors: slices.Clone(conns),
	}
}

// Add adds conn to the group.  It does not start conn.
func (g *Group) Add(conn Connector) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connectors = append(slices.Clip(g.connectors), conn)
}

// type check
var _ Server = (*Group)(nil)

// Connectors implements the [Server] interface for *Group.
func (g *Group) Connectors() (conns []Connector) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.connectors
}

// type check
var _ service.Interface = (*Group)(nil)

// Start implements the [service.Interface] interface for *Group.  It starts
// every connector that is a [service.Interface] in the order of addition and
// stops at the first error.
func (g *Group) Start(ctx context.Context) (err error) {
	for _, conn := range g.Connectors() {
		svc, ok := conn.(service.Interface)
		if !ok {
			continue
		}

		err = svc.Start(ctx)
		if err != nil {
			return fmt.Errorf("connector %q: %w", conn.Name(), err)
		}
	}

	g.logger.InfoContext(ctx, "started connectors", "num", len(g.Connectors()))

	return nil
}

// Shutdown implements the [service.Interface] interface for *Group.  It shuts
// every connector that is a [service.Interface] down in the reverse order.
func (g *Group) Shutdown(ctx context.Context) (err error) {
	conns := g.Connectors()

	var errs []error
	for _, conn := range slices.Backward(conns) {
		svc, ok := conn.(service.Interface)
		if !ok {
			continue
		}

		err = svc.Shutdown(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("connector %q: %w", conn.Name(), err))
		}
	}

	return errors.Join(errs...)
}
