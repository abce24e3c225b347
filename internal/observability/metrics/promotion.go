package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromotionMetrics contains Prometheus metrics for promotion runs.
// A nil *PromotionMetrics records nothing.
type PromotionMetrics struct {
	registry *prometheus.Registry

	runsTotal            *prometheus.CounterVec
	runDuration          prometheus.Histogram
	candidatesTotal      prometheus.Counter
	clustersTotal        prometheus.Counter
	featuresTotal        prometheus.Counter
	fusionFallbacksTotal prometheus.Counter
	subjectErrorsTotal   *prometheus.CounterVec
	fusedProbability     prometheus.Histogram
	markingCacheTotal    *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewPromotionMetrics creates and registers new promotion metrics
func NewPromotionMetrics(registry *prometheus.Registry) (*PromotionMetrics, error) {
	m := &PromotionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PromotionMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promotion_runs_total",
			Help: "Total number of promotion runs",
		},
		[]string{"status"},
	)
	m.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promotion_run_duration_seconds",
			Help:    "Time taken for a promotion run including persistence",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
	)
	m.candidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promotion_candidate_subjects_total",
		Help: "Total number of SWAP subjects above the promotion threshold",
	})
	m.clustersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promotion_clusters_total",
		Help: "Total number of marking clusters evaluated",
	})
	m.featuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promotion_features_promoted_total",
		Help: "Total number of features promoted",
	})
	m.fusionFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "promotion_fusion_fallbacks_total",
		Help: "Total number of clusters whose fusion failed and fell back to the prior",
	})
	m.subjectErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promotion_subject_errors_total",
			Help: "Total number of candidate subjects skipped because of an error",
		},
		[]string{"error_type"},
	)
	m.fusedProbability = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promotion_fused_probability",
			Help:    "Distribution of fused cluster probabilities",
			Buckets: prometheus.LinearBuckets(0, BucketProbabilityWidth, BucketProbabilityCount),
		},
	)
	m.markingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promotion_marking_cache_total",
			Help: "Marking geometry cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	m.collectors = []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.candidatesTotal,
		m.clustersTotal,
		m.featuresTotal,
		m.fusionFallbacksTotal,
		m.subjectErrorsTotal,
		m.fusedProbability,
		m.markingCacheTotal,
	}
}

// Describe implements the Collector interface
func (m *PromotionMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PromotionMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordRun records a finished run and its duration
func (m *PromotionMetrics) RecordRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordCandidates adds n candidate subjects
func (m *PromotionMetrics) RecordCandidates(n int) {
	if m == nil {
		return
	}
	m.candidatesTotal.Add(float64(n))
}

// RecordCluster records one evaluated cluster and its fused probability
func (m *PromotionMetrics) RecordCluster(probability float64, fallback bool) {
	if m == nil {
		return
	}
	m.clustersTotal.Inc()
	m.fusedProbability.Observe(probability)
	if fallback {
		m.fusionFallbacksTotal.Inc()
	}
}

// RecordPromoted adds n emitted features
func (m *PromotionMetrics) RecordPromoted(n int) {
	if m == nil {
		return
	}
	m.featuresTotal.Add(float64(n))
}

// RecordSubjectError counts a candidate skipped for errorType
func (m *PromotionMetrics) RecordSubjectError(errorType string) {
	if m == nil {
		return
	}
	m.subjectErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordMarkingCache counts a cache hit or miss
func (m *PromotionMetrics) RecordMarkingCache(result string) {
	if m == nil {
		return
	}
	m.markingCacheTotal.WithLabelValues(result).Inc()
}
