// Package entities defines the persisted models of the consensus and promotion pipeline.
//
// Every model carries gorm tags for the sqlite and mysql backends and yaml tags for
// the file backend. Nested collections (histories, score maps, evidence) are stored
// as JSON columns through gorm's json serializer.
//
// # Consensus Entities
//
//   - Classification: one volunteer label on one subject (the classification log)
//   - User: per-volunteer weight and classification history
//   - Subject: per-image label scores and classification history
//   - ScoreSnapshot, WeightSnapshot: versioned per-pass history rows
//
// # Promotion Entities
//
//   - Marking: the ellipse drawn with a positive classification
//   - SwapSubject: a SWAP output snapshot row
//   - PromotionRecord: a promoted feature, doubling as the dedup registry
package entities

// SnapshotSchemaVersion is the current version of ScoreSnapshot and WeightSnapshot.
const SnapshotSchemaVersion = 1
