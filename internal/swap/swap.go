// Package swap describes the SWAP output consumed by promotion.
//
// SWAP itself (the probabilistic labeller model) runs elsewhere; this package
// only defines the subject snapshot it produces and sources that load it.
package swap

import (
	"context"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// Gold label sentinels
const (
	GoldNonTraining = -1
	GoldNegative    = 0
	GoldPositive    = 1
)

// Confusion matrix row keys
const (
	RowNegative = "0"
	RowPositive = "1"
)

// UserScore is a volunteer's confusion matrix, {"0": [TN, FP], "1": [FN, TP]}.
type UserScore map[string][2]float64

// Rates returns the true positive rate s["1"][1] and the false positive
// rate s["0"][1]. It fails with a missing-entity error when a row is absent.
func (s UserScore) Rates() (tpr, fpr float64, err error) {
	pos, ok := s[RowPositive]
	if !ok {
		return 0, 0, missingRow(RowPositive)
	}
	neg, ok := s[RowNegative]
	if !ok {
		return 0, 0, missingRow(RowNegative)
	}
	return pos[1], neg[1], nil
}

func missingRow(row string) error {
	return errors.Newf("user score is missing confusion matrix row %q", row).
		Component("swap").
		Category(errors.CategoryMissingEntity).
		Context("row", row).
		Build()
}

// HistoryEntry is one classification in a SWAP subject history.
type HistoryEntry struct {
	ClassificationID int64     `yaml:"classification_id" json:"classification_id"`
	UserID           int64     `yaml:"user_id" json:"user_id"`
	UserScore        UserScore `yaml:"user_score" json:"user_score"`
	SubmittedLabel   int       `yaml:"submitted_label" json:"submitted_label"`
	SubjectScore     float64   `yaml:"subject_score" json:"subject_score"`
}

// IsPlaceholder reports whether the entry is the synthetic first history
// entry SWAP writes before any classification arrives.
func (h HistoryEntry) IsPlaceholder() bool {
	return h.ClassificationID == 0
}

// Subject is a SWAP subject snapshot.
type Subject struct {
	SubjectID int64              `yaml:"subject_id" json:"subject_id"`
	Score     map[string]float64 `yaml:"score" json:"score"`
	History   []HistoryEntry     `yaml:"history" json:"history"`
	GoldLabel int                `yaml:"gold_label" json:"gold_label"`
	RetiredAs *string            `yaml:"retired_as,omitempty" json:"retired_as,omitempty"`
}

// IsTraining reports whether the subject is a gold-standard training image.
func (s *Subject) IsTraining() bool {
	return s.GoldLabel == GoldNegative || s.GoldLabel == GoldPositive
}

// PositiveMarkings returns the non-placeholder entries submitted with label 1,
// in history order.
func (s *Subject) PositiveMarkings() []HistoryEntry {
	var out []HistoryEntry
	for _, h := range s.History {
		if h.IsPlaceholder() || h.SubmittedLabel != GoldPositive {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Source loads SWAP subject snapshots.
type Source interface {
	Subjects(ctx context.Context) ([]Subject, error)
}
