// Package observability provides Prometheus metrics for consensus and promotion runs.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/d-kessler/CountertopDarkMatter/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Consensus *metrics.ConsensusMetrics
	Promotion *metrics.PromotionMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}

	consensusMetrics, err := metrics.NewConsensusMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consensus metrics: %w", err)
	}

	promotionMetrics, err := metrics.NewPromotionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Promotion metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Consensus: consensusMetrics,
		Promotion: promotionMetrics,
	}, nil
}

// Registry returns the registry all collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
