package metrics

import (
	"context"

	"github.com/AdguardTeam/golibs/container"
	"github.com/prometheus/client_golang/prometheus"
)

// Connector is a Prometheus-based implementation of the [connector.Metrics]
// interface.
type Connector struct {
	// accepted is the counter vector of connections that have completed the
	// handshake.
	accepted *prometheus.CounterVec

	// failed is the counter vector of connections that have failed the
	// handshake.
	failed *prometheus.CounterVec

	// accepting is the gauge vector showing whether a connector accepts new
	// connections.
	accepting *prometheus.GaugeVec
}

// NewConnector registers the connector metrics in reg and returns a properly
// initialized *Connector.
func NewConnector(namespace string, reg prometheus.Registerer) (m *Connector, err error) {
	const (
		accepted  = "accepted_total"
		failed    = "accept_failed_total"
		accepting = "accepting"
	)

	m = &Connector{
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      accepted,
			Subsystem: subsystemConnector,
			Namespace: namespace,
			Help:      "The total number of connections that have completed the handshake.",
		}, []string{"name"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      failed,
			Subsystem: subsystemConnector,
			Namespace: namespace,
			Help:      "The total number of connections that have failed the handshake.",
		}, []string{"name"}),
		accepting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:      accepting,
			Subsystem: subsystemConnector,
			Namespace: namespace,
			Help:      "Whether a connector accepts new connections: 1 if it does, 0 if not.",
		}, []string{"name"}),
	}

	err = register(reg, container.KeyValues[string, prometheus.Collector]{{
		Key:   accepted,
		Value: m.accepted,
	}, {
		Key:   failed,
		Value: m.failed,
	}, {
		Key:   accepting,
		Value: m.accepting,
	}})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// IncrementAccepted implements the [connector.Metrics] interface for
// *Connector.
func (m *Connector) IncrementAccepted(_ context.Context, name string) {
	m.accepted.WithLabelValues(name).Inc()
}

// IncrementFailed implements the [connector.Metrics] interface for *Connector.
func (m *Connector) IncrementFailed(_ context.Context, name string) {
	m.failed.WithLabelValues(name).Inc()
}

// SetAccepting implements the [connector.Metrics] interface for *Connector.
func (m *Connector) SetAccepting(_ context.Context, name string, ok bool) {
	m.accepting.WithLabelValues(name).Set(BoolFloat(ok))
}
