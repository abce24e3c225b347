package datastore

import (
	"context"

	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/swap"
)

// SwapSnapshotSource serves SWAP subjects from a snapshot table.
type SwapSnapshotSource struct {
	store RecordStore[entities.SwapSubject]
}

// NewSwapSnapshotSource returns a swap.Source reading store.
func NewSwapSnapshotSource(store RecordStore[entities.SwapSubject]) *SwapSnapshotSource {
	return &SwapSnapshotSource{store: store}
}

// Subjects returns all snapshot rows in subject id order.
func (s *SwapSnapshotSource) Subjects(ctx context.Context) ([]swap.Subject, error) {
	rows, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]swap.Subject, len(rows))
	for i := range rows {
		out[i] = toSwapSubject(&rows[i])
	}
	return out, nil
}

// Replace stores subjects as the new snapshot.
func (s *SwapSnapshotSource) Replace(ctx context.Context, subjects []swap.Subject) error {
	rows := make([]entities.SwapSubject, len(subjects))
	for i := range subjects {
		rows[i] = fromSwapSubject(&subjects[i])
	}
	return s.store.ClearAndRewrite(ctx, rows)
}

func toSwapSubject(e *entities.SwapSubject) swap.Subject {
	history := make([]swap.HistoryEntry, len(e.History))
	for i, h := range e.History {
		history[i] = swap.HistoryEntry{
			ClassificationID: h.ClassificationID,
			UserID:           h.UserID,
			UserScore:        swap.UserScore(h.UserScore),
			SubmittedLabel:   h.SubmittedLabel,
			SubjectScore:     h.SubjectScore,
		}
	}
	return swap.Subject{
		SubjectID: e.SubjectID,
		Score:     e.Score,
		History:   history,
		GoldLabel: e.GoldLabel,
		RetiredAs: e.RetiredAs,
	}
}

func fromSwapSubject(s *swap.Subject) entities.SwapSubject {
	history := make([]entities.SwapHistoryEntry, len(s.History))
	for i, h := range s.History {
		history[i] = entities.SwapHistoryEntry{
			ClassificationID: h.ClassificationID,
			UserID:           h.UserID,
			UserScore:        h.UserScore,
			SubmittedLabel:   h.SubmittedLabel,
			SubjectScore:     h.SubjectScore,
		}
	}
	return entities.SwapSubject{
		SubjectID: s.SubjectID,
		Score:     s.Score,
		History:   history,
		GoldLabel: s.GoldLabel,
		RetiredAs: s.RetiredAs,
	}
}

// Compile-time interface assertion
var _ swap.Source = (*SwapSnapshotSource)(nil)
