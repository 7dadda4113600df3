// Package debugsvc contains the debug HTTP API of AcceptGuard.
package debugsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/AcceptGuard/internal/acceptlimit"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil/httputil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider is the part of [acceptlimit.Governor] used by the debug API.
type StatusProvider interface {
	// Status returns the current state of the governor.  st must not be nil.
	Status() (st *acceptlimit.Status)
}

// Service is the HTTP service of AcceptGuard.  It serves prometheus metrics,
// pprof, health check, and the state of the accept governors.
type Service struct {
	log        *slog.Logger
	acceptHdlr *acceptHandler
	promHdlr   http.Handler
	servers    map[string]*server
}

// Config is the AcceptGuard HTTP service configuration structure.
type Config struct {
	// Logger is used to log the operation of the service.  It must not be nil.
	Logger *slog.Logger

	// Gatherer is used to serve the prometheus metrics.  If nil,
	// [prometheus.DefaultGatherer] is used.
	Gatherer prometheus.Gatherer

	// Governors are the accept governors whose state is served by the API.
	Governors []StatusProvider

	APIAddr        string
	PprofAddr      string
	PrometheusAddr string
}

// New returns a new properly initialized *Service.
func New(c *Config) (svc *Service) {
	gatherer := c.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	svc = &Service{
		log: c.Logger,
		acceptHdlr: &acceptHandler{
			governors: c.Governors,
		},
		promHdlr: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		servers:  make(map[string]*server),
	}

	svc.addServer(c.PrometheusAddr, "prometheus")
	svc.addServer(c.PprofAddr, "pprof")

	// The health-check and API server causes panic if it doesn't start because
	// the server is needed to check if the connectors are active.
	svc.addServer(c.APIAddr, "api")

	return svc
}

// server is a single server within the AcceptGuard HTTP service.
type server struct {
	http *http.Server
	name string
}

// startServer starts one server and panics if there is an unexpected error.
func startServer(ctx context.Context, l *slog.Logger, s *server) {
	defer slogutil.RecoverAndExit(ctx, l, osutil.ExitCodeFailure)

	l.InfoContext(ctx, "listening", "name", s.name, "addr", s.http.Addr)

	srv := s.http
	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		panic(fmt.Errorf("%s: failed listen on %s: %w", srv.Addr, s.name, err))
	}
}

// type check
var _ service.Interface = (*Service)(nil)

// Start implements the [service.Interface] interface for *Service.  It starts
// serving all endpoints but does not wait for them to actually go online.  err
// is always nil, if any endpoint fails to start, it panics.
func (svc *Service) Start(ctx context.Context) (err error) {
	for _, srv := range svc.servers {
		go startServer(context.WithoutCancel(ctx), svc.log, srv)
	}

	return nil
}

// Shutdown implements the [service.Interface] interface for *Service.  It stops
// serving all endpoints.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	srvNum := 0
	for _, srv := range svc.servers {
		err = srv.http.Shutdown(ctx)
		if err != nil {
			return fmt.Errorf("server %s shutdown: %w", srv.name, err)
		}

		srvNum++

		svc.log.InfoContext(ctx, "server is shutdown", "name", srv.name)
	}

	svc.log.InfoContext(ctx, "all servers shutdown", "num", srvNum)

	return nil
}

// addServer adds the named handler to the service, creating a new server
// listening on a different address if necessary.  If addr is empty, the service
// isn't created.
func (svc *Service) addServer(addr, name string) {
	if addr == "" {
		return
	}

	var mux *http.ServeMux

	srv, ok := svc.servers[addr]
	if !ok {
		mux = http.NewServeMux()
		svc.addHandler(name, mux)

		svc.servers[addr] = &server{
			// #nosec G112 -- Do not set the timeouts, since debug/pprof and
			// similar debug APIs may be busy for a long time.
			http: &http.Server{
				Addr:     addr,
				Handler:  mux,
				ErrorLog: slog.NewLogLogger(svc.log.Handler(), slog.LevelDebug),
			},
			name: name,
		}

		return
	}

	mux = srv.http.Handler.(*http.ServeMux)
	svc.addHandler(name, mux)
	srv.name += ";" + name
}

// addHandler adds the handlers of the service with the given name to mux.
func (svc *Service) addHandler(serviceName string, mux *http.ServeMux) {
	switch serviceName {
	case "api":
		svc.apiMux(mux)
	case "pprof":
		httputil.RoutePprof(mux)
	case "prometheus":
		svc.promMux(mux)
	default:
		panic(fmt.Errorf("debugsvc: could not find mux for service %q", serviceName))
	}
}

// apiMux adds the health-check and other debug API handlers to mux.
func (svc *Service) apiMux(mux *http.ServeMux) {
	mux.Handle(routePatternHealthCheck, svc.middleware(
		http.HandlerFunc(serveHealthCheck),
		slog.LevelDebug,
	))
	mux.Handle(routePatternDebugAPIAccept, svc.middleware(svc.acceptHdlr, slog.LevelDebug))
}

// promMux adds the prometheus service handler to mux.
func (svc *Service) promMux(mux *http.ServeMux) {
	mux.Handle(routePatternMetrics, svc.middleware(svc.promHdlr, slog.LevelDebug))
}
