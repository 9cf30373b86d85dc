// Package metrics implements the server's internal operational metrics,
// exposed on /metrics separately from the §6 business-logic stats endpoint.
// Grounded in the Prometheus usage of the reference corpus's consensus
// engine (counters and histograms registered against a prometheus.Registerer
// rather than the global default registry).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter and histogram the coordinator emits.
type Metrics struct {
	DispatchOutcomes  *prometheus.CounterVec
	CommitOutcomes    *prometheus.CounterVec
	FinalizeCount     prometheus.Counter
	HTTPRequestDurSec *prometheus.HistogramVec
}

// Dispatch outcome labels, §4.4.
const (
	DispatchNew      = "new"
	DispatchReverify = "reverify"
	DispatchNone     = "none_available"
)

// Commit outcome labels, §4.5.
const (
	CommitAccept           = "accept"
	CommitPenalty          = "penalty"
	CommitTrustedOverwrite = "trusted_overwrite"
)

// New creates the metric set and registers it against reg. reg is typically
// a fresh prometheus.NewRegistry() wired into cmd/swarmd/main.go rather than
// the global default registry, so tests can create independent instances.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		DispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmd",
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Batch dispatch outcomes by selection path.",
		}, []string{"outcome"}),
		CommitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmd",
			Subsystem: "commit",
			Name:      "outcomes_total",
			Help:      "Commit verification outcomes.",
		}, []string{"outcome"}),
		FinalizeCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmd",
			Subsystem: "finalize",
			Name:      "total",
			Help:      "Number of successful batch finalizations.",
		}),
		HTTPRequestDurSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swarmd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{m.DispatchOutcomes, m.CommitOutcomes, m.FinalizeCount, m.HTTPRequestDurSec} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveHTTP records the duration of a single request against route.
func (m *Metrics) ObserveHTTP(route string, d time.Duration) {
	m.HTTPRequestDurSec.WithLabelValues(route).Observe(d.Seconds())
}
