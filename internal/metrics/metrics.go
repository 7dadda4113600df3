// Package metrics contains definitions of most of the prometheus metrics
// that we use in AcceptGuard.
package metrics

import (
	"fmt"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace is the namespace of all metrics of AcceptGuard.
const Namespace = "acceptguard"

// constants with the subsystem names that we use in our prometheus metrics.
const (
	subsystemAcceptLimit = "acceptlimit"
	subsystemApplication = "app"
	subsystemConnector   = "connector"
)

// SetUpGauge signals that the server has been started.  Use a function here
// to avoid circular dependencies.
func SetUpGauge(
	reg prometheus.Registerer,
	version string,
	buildtime string,
	branch string,
	revision string,
	goversion string,
) {
	upGauge := promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name:      "up",
			Namespace: Namespace,
			Subsystem: subsystemApplication,
			Help: `A metric with a constant '1' value labeled by ` +
				`version and goversion from which the program was built.`,
			ConstLabels: prometheus.Labels{
				"version":   version,
				"buildtime": buildtime,
				"branch":    branch,
				"revision":  revision,
				"goversion": goversion,
			},
		},
	)

	upGauge.Set(1)
}

// SetAdditionalInfo adds a gauge with extra info labels.  If info is nil,
// SetAdditionalInfo does nothing.
func SetAdditionalInfo(reg prometheus.Registerer, info map[string]string) {
	if info == nil {
		return
	}

	gauge := promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name:      "additional_info",
			Namespace: Namespace,
			Subsystem: subsystemApplication,
			Help: `A metric with a constant '1' value labeled by additional ` +
				`info provided in configuration`,
			ConstLabels: info,
		},
	)

	gauge.Set(1)
}

// BoolFloat returns 1 if cond is true and 0 otherwise.
func BoolFloat(cond bool) (f float64) {
	if cond {
		return 1
	}

	return 0
}

// register registers every collector in reg and returns the joined errors.
func register(
	reg prometheus.Registerer,
	collectors container.KeyValues[string, prometheus.Collector],
) (err error) {
	var errs []error
	for _, c := range collectors {
		err = reg.Register(c.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("registering metrics %q: %w", c.Key, err))
		}
	}

	return errors.Join(errs...)
}
