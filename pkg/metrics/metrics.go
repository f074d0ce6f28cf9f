package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Broker-related Prometheus metrics. Defined in a standalone package so the
// broker library does not import the HTTP surface.

var (
	DetectorProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credhost_detector_probes_total",
		Help: "Authority detection outcomes",
	}, []string{"outcome"}) // managed | unmanaged

	RefreshAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credhost_refresh_total",
		Help: "RefreshCredentials outcomes",
	}, []string{"source", "outcome"}) // source: refresh_token | federated | none

	PatsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credhost_pats_generated_total",
		Help: "Personal access tokens generated and persisted",
	})
)

// Register registers the broker metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{DetectorProbes, RefreshAttempts, PatsGenerated} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
