package consensus

import (
	"maps"
	"slices"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// Ingester merges classification batches into a State.
type Ingester struct {
	labels map[string]struct{}
}

// NewIngester returns an Ingester accepting only the given labels.
func NewIngester(labels []string) *Ingester {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return &Ingester{labels: set}
}

// Ingest validates the whole batch and then applies it row by row. A batch
// with any malformed or duplicate row is rejected without touching state.
// Scores and weights are left to the engine.
func (in *Ingester) Ingest(state *State, batch []Classification) error {
	if err := in.validate(state, batch); err != nil {
		return err
	}

	for _, c := range batch {
		user := state.user(c.UserID)
		subject := state.subject(c.SubjectID)

		subject.NUsers[c.Label]++
		user.NSubjects++

		subject.Classifications = append(subject.Classifications, c)
		user.Classifications = append(user.Classifications, c)
		state.seen[c.ClassificationID] = struct{}{}
	}
	return nil
}

func (in *Ingester) validate(state *State, batch []Classification) error {
	inBatch := make(map[int64]struct{}, len(batch))

	for i, c := range batch {
		if c.ClassificationID <= 0 || c.SubjectID <= 0 || c.UserID <= 0 || c.Label == "" {
			return errors.Newf("classification row %d is missing required fields", i).
				Component("consensus").
				Category(errors.CategoryMalformedRecord).
				Context("row", i).
				Context("classification_id", c.ClassificationID).
				Context("subject_id", c.SubjectID).
				Context("user_id", c.UserID).
				Build()
		}

		if _, ok := in.labels[c.Label]; !ok {
			return errors.Newf("classification %d has label %q outside the label set", c.ClassificationID, c.Label).
				Component("consensus").
				Category(errors.CategoryMalformedRecord).
				Context("classification_id", c.ClassificationID).
				Context("label", c.Label).
				Context("labels", slices.Sorted(maps.Keys(in.labels))).
				Build()
		}

		_, dupInBatch := inBatch[c.ClassificationID]
		if dupInBatch || state.HasClassification(c.ClassificationID) {
			return errors.Newf("classification %d was already ingested", c.ClassificationID).
				Component("consensus").
				Category(errors.CategoryDuplicate).
				Context("classification_id", c.ClassificationID).
				Context("within_batch", dupInBatch).
				Build()
		}
		inBatch[c.ClassificationID] = struct{}{}
	}
	return nil
}
