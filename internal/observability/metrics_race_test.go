package observability

import (
	"sync"
	"testing"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently.
// Each call owns its registry, so no collector is registered twice.
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for range numGoroutines {
		go func() {
			defer wg.Done()

			metrics, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if metrics.registry == nil {
				t.Error("metrics.registry is nil")
			}
			if metrics.Consensus == nil {
				t.Error("metrics.Consensus is nil")
			}
			if metrics.Promotion == nil {
				t.Error("metrics.Promotion is nil")
			}

			metrics.Consensus.RecordPass()
			metrics.Promotion.RecordPromoted(1)
		}()
	}

	wg.Wait()
}
