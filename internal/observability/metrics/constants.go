// Package metrics provides constants used across metric definitions.
package metrics

// Status label values shared by run counters.
const (
	// StatusSuccess marks a run that completed and persisted.
	StatusSuccess = "success"
	// StatusError marks a run that failed before or during persistence.
	StatusError = "error"
)

// Cache result label values.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketFactor2 is the exponential growth factor for duration histograms.
	BucketFactor2 = 2
	// BucketCount15 gives duration histograms from 1ms to ~16s.
	BucketCount15 = 15

	// BucketProbabilityWidth is the width of each probability bucket.
	BucketProbabilityWidth = 0.1
	// BucketProbabilityCount covers [0,1] in tenths.
	BucketProbabilityCount = 11
)
