package metrics

import (
	"context"

	"github.com/AdguardTeam/golibs/container"
	"github.com/prometheus/client_golang/prometheus"
)

// AcceptLimit is a Prometheus-based implementation of the
// [acceptlimit.Metrics] interface.
type AcceptLimit struct {
	// current is the gauge vector of the current rate or number of accepts in
	// flight.
	current *prometheus.GaugeVec

	// limiting is the gauge vector showing whether a governor has suspended
	// accepting.
	limiting *prometheus.GaugeVec

	// suspensions is the counter vector of the times a governor has suspended
	// accepting.
	suspensions *prometheus.CounterVec
}

// NewAcceptLimit registers the accept-governor metrics in reg and returns a
// properly initialized *AcceptLimit.
func NewAcceptLimit(namespace string, reg prometheus.Registerer) (m *AcceptLimit, err error) {
	const (
		current     = "current"
		limiting    = "limiting"
		suspensions = "suspensions_total"
	)

	m = &AcceptLimit{
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:      current,
			Subsystem: subsystemAcceptLimit,
			Namespace: namespace,
			Help: "The current accept rate of a rate governor or the current number " +
				"of accepts in flight of a concurrency governor.",
		}, []string{"name"}),
		limiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:      limiting,
			Subsystem: subsystemAcceptLimit,
			Namespace: namespace,
			Help:      "Whether a governor has suspended accepting: 1 if it has, 0 if not.",
		}, []string{"name"}),
		suspensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      suspensions,
			Subsystem: subsystemAcceptLimit,
			Namespace: namespace,
			Help:      "The total number of times a governor has suspended accepting.",
		}, []string{"name"}),
	}

	err = register(reg, container.KeyValues[string, prometheus.Collector]{{
		Key:   current,
		Value: m.current,
	}, {
		Key:   limiting,
		Value: m.limiting,
	}, {
		Key:   suspensions,
		Value: m.suspensions,
	}})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetCurrent implements the [acceptlimit.Metrics] interface for *AcceptLimit.
func (m *AcceptLimit) SetCurrent(_ context.Context, name string, n int) {
	m.current.WithLabelValues(name).Set(float64(n))
}

// SetLimiting implements the [acceptlimit.Metrics] interface for *AcceptLimit.
func (m *AcceptLimit) SetLimiting(_ context.Context, name string, ok bool) {
	m.limiting.WithLabelValues(name).Set(BoolFloat(ok))
}

// IncrementSuspensions implements the [acceptlimit.Metrics] interface for
// *AcceptLimit.
func (m *AcceptLimit) IncrementSuspensions(_ context.Context, name string) {
	m.suspensions.WithLabelValues(name).Inc()
}
