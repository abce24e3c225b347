package consensus

import (
	"maps"
	"math"

	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// resetAccumulators clears the running sums so a pass recomputes from the
// classification histories alone.
func resetAccumulators(state *State) {
	for _, subj := range state.Subjects {
		subj.UserWeightSum = 0
		for label := range subj.Score {
			subj.Score[label] = 0
		}
	}
	for _, u := range state.Users {
		u.NSubjects = 0
	}
}

// scorePass folds every classification into its subject's score for the
// classified label, weighted by the classifying user's current weight.
func scorePass(state *State, runID string, pass int) error {
	for _, id := range state.SubjectIDs() {
		subj := state.Subjects[id]

		for _, c := range subj.Classifications {
			user, ok := state.Users[c.UserID]
			if !ok {
				return missingEntity("user", c.UserID, c.ClassificationID)
			}

			w := user.Weight
			denom := subj.UserWeightSum + w
			if denom == 0 || !isFinite(denom) {
				return errors.Newf("score denominator for subject %d is %v", id, denom).
					Component("consensus").
					Category(errors.CategoryArithmetic).
					Context("subject_id", id).
					Context("classification_id", c.ClassificationID).
					Context("user_id", c.UserID).
					Build()
			}

			subj.Score[c.Label] = (subj.Score[c.Label]*subj.UserWeightSum + w) / denom
			subj.UserWeightSum = denom
		}

		subj.ScoreHistory = append(subj.ScoreHistory, entities.ScoreSnapshot{
			SchemaVersion: entities.SnapshotSchemaVersion,
			RunID:         runID,
			Pass:          pass,
			Score:         maps.Clone(subj.Score),
			UserWeightSum: subj.UserWeightSum,
		})
	}
	return nil
}

// weightPass moves every user's weight toward the scores their labels earned.
func weightPass(state *State, runID string, pass int) error {
	for _, id := range state.UserIDs() {
		user := state.Users[id]

		for _, c := range user.Classifications {
			subj, ok := state.Subjects[c.SubjectID]
			if !ok {
				return missingEntity("subject", c.SubjectID, c.ClassificationID)
			}

			n := float64(user.NSubjects)
			user.Weight = (user.Weight*n + subj.Score[c.Label]) / (n + 1)
			user.NSubjects++
		}

		user.WeightHistory = append(user.WeightHistory, entities.WeightSnapshot{
			SchemaVersion: entities.SnapshotSchemaVersion,
			RunID:         runID,
			Pass:          pass,
			Weight:        user.Weight,
			NSubjects:     user.NSubjects,
		})
	}
	return nil
}

// rescale divides every weight by the mean weight.
func rescale(state *State) error {
	if len(state.Users) == 0 {
		return nil
	}

	var sum float64
	for _, u := range state.Users {
		sum += u.Weight
	}
	mean := sum / float64(len(state.Users))
	if mean == 0 || !isFinite(mean) {
		return errors.Newf("mean user weight is %v", mean).
			Component("consensus").
			Category(errors.CategoryArithmetic).
			Context("users", len(state.Users)).
			Context("mean_weight", mean).
			Build()
	}

	for _, u := range state.Users {
		u.Weight /= mean
	}
	return nil
}

func missingEntity(kind string, id, classificationID int64) error {
	return errors.Newf("%s %d referenced by classification %d not found", kind, id, classificationID).
		Component("consensus").
		Category(errors.CategoryMissingEntity).
		Context(kind+"_id", id).
		Context("classification_id", classificationID).
		Build()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
