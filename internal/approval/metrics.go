package approval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records approval decision counts and how long items waited for
// a verdict.
type Metrics struct {
	decisions *prometheus.CounterVec
	latency   prometheus.Histogram
}

// NewMetrics creates and registers the approval metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "closet",
			Subsystem: "approvals",
			Name:      "decisions_total",
			Help:      "Admin approval decisions by outcome.",
		}, []string{"decision"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "closet",
			Subsystem: "approvals",
			Name:      "latency_seconds",
			Help:      "Seconds between approval request and admin decision.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(m.decisions, m.latency)
	return m
}

// ObserveDecision records one resolved approval.
func (m *Metrics) ObserveDecision(decision Decision, waited time.Duration) {
	m.decisions.WithLabelValues(string(decision)).Inc()
	if waited > 0 {
		m.latency.Observe(waited.Seconds())
	}
}
