// Package metrics provides consensus engine metrics for observability
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsensusMetrics contains Prometheus metrics for consensus runs.
// A nil *ConsensusMetrics records nothing.
type ConsensusMetrics struct {
	registry *prometheus.Registry

	runsTotal               *prometheus.CounterVec
	runDuration             prometheus.Histogram
	passesTotal             prometheus.Counter
	classificationsIngested prometheus.Counter
	ingestErrorsTotal       *prometheus.CounterVec

	usersGauge    prometheus.Gauge
	subjectsGauge prometheus.Gauge
	weightMin     prometheus.Gauge
	weightMax     prometheus.Gauge

	collectors []prometheus.Collector
}

// NewConsensusMetrics creates and registers new consensus metrics
func NewConsensusMetrics(registry *prometheus.Registry) (*ConsensusMetrics, error) {
	m := &ConsensusMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ConsensusMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_runs_total",
			Help: "Total number of consensus runs",
		},
		[]string{"status"},
	)

	m.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensus_run_duration_seconds",
			Help:    "Time taken for a consensus run including persistence",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
	)

	m.passesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_passes_total",
			Help: "Total number of score and weight refinement passes",
		},
	)

	m.classificationsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_classifications_ingested_total",
			Help: "Total number of classifications merged into state",
		},
	)

	m.ingestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_ingest_errors_total",
			Help: "Total number of rejected classification batches",
		},
		[]string{"error_type"}, // malformed_record, duplicate_classification
	)

	m.usersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_users",
		Help: "Number of users in consensus state after the last run",
	})
	m.subjectsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_subjects",
		Help: "Number of subjects in consensus state after the last run",
	})
	m.weightMin = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_user_weight_min",
		Help: "Smallest user weight after the last run",
	})
	m.weightMax = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_user_weight_max",
		Help: "Largest user weight after the last run",
	})

	m.collectors = []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.passesTotal,
		m.classificationsIngested,
		m.ingestErrorsTotal,
		m.usersGauge,
		m.subjectsGauge,
		m.weightMin,
		m.weightMax,
	}
}

// Describe implements the Collector interface
func (m *ConsensusMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ConsensusMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordRun records a finished run and its duration
func (m *ConsensusMetrics) RecordRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordPass counts one refinement pass
func (m *ConsensusMetrics) RecordPass() {
	if m == nil {
		return
	}
	m.passesTotal.Inc()
}

// RecordIngested adds n accepted classifications
func (m *ConsensusMetrics) RecordIngested(n int) {
	if m == nil {
		return
	}
	m.classificationsIngested.Add(float64(n))
}

// RecordIngestError counts a rejected batch
func (m *ConsensusMetrics) RecordIngestError(errorType string) {
	if m == nil {
		return
	}
	m.ingestErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetState publishes population sizes and the user weight range
func (m *ConsensusMetrics) SetState(users, subjects int, weightMin, weightMax float64) {
	if m == nil {
		return
	}
	m.usersGauge.Set(float64(users))
	m.subjectsGauge.Set(float64(subjects))
	m.weightMin.Set(weightMin)
	m.weightMax.Set(weightMax)
}
