package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the orchestrator's operational counters. All methods are
// nil-receiver safe so services can run without a registry in tests.
type Metrics struct {
	submissionsAccepted prometheus.Counter
	submissionsRejected *prometheus.CounterVec
	tallyRuns           prometheus.Counter
	engineSeconds       *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submissionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "verivote_submissions_accepted_total",
			Help: "Ballots successfully recorded.",
		}),
		submissionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verivote_submissions_rejected_total",
			Help: "Vote submissions rejected, by error kind.",
		}, []string{"kind"}),
		tallyRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "verivote_tally_runs_total",
			Help: "Completed tally computations.",
		}),
		engineSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verivote_crypto_engine_seconds",
			Help:    "Crypto engine call latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) SubmissionAccepted() {
	if m != nil {
		m.submissionsAccepted.Inc()
	}
}

func (m *Metrics) SubmissionRejected(kind string) {
	if m != nil {
		m.submissionsRejected.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) TallyRun() {
	if m != nil {
		m.tallyRuns.Inc()
	}
}

func (m *Metrics) ObserveEngine(operation string, d time.Duration) {
	if m != nil {
		m.engineSeconds.WithLabelValues(operation).Observe(d.Seconds())
	}
}
