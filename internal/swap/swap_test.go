package swap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

func TestUserScoreRates(t *testing.T) {
	t.Parallel()

	t.Run("reads tpr and fpr", func(t *testing.T) {
		t.Parallel()
		s := UserScore{"0": {0.8, 0.2}, "1": {0.1, 0.9}}
		tpr, fpr, err := s.Rates()
		require.NoError(t, err)
		assert.InDelta(t, 0.9, tpr, 1e-12)
		assert.InDelta(t, 0.2, fpr, 1e-12)
	})

	t.Run("missing positive row", func(t *testing.T) {
		t.Parallel()
		_, _, err := UserScore{"0": {0.5, 0.5}}.Rates()
		require.Error(t, err)
		assert.True(t, errors.IsMissingEntity(err))
	})

	t.Run("missing negative row", func(t *testing.T) {
		t.Parallel()
		_, _, err := UserScore{"1": {0.5, 0.5}}.Rates()
		require.Error(t, err)
		assert.True(t, errors.IsMissingEntity(err))
	})
}

func TestSubjectHelpers(t *testing.T) {
	t.Parallel()

	s := Subject{
		SubjectID: 7,
		GoldLabel: GoldNonTraining,
		History: []HistoryEntry{
			{ClassificationID: 0, SubmittedLabel: 1},
			{ClassificationID: 11, UserID: 1, SubmittedLabel: 1},
			{ClassificationID: 12, UserID: 2, SubmittedLabel: 0},
			{ClassificationID: 13, UserID: 3, SubmittedLabel: 1},
		},
	}

	assert.False(t, s.IsTraining())
	got := s.PositiveMarkings()
	require.Len(t, got, 2)
	assert.Equal(t, int64(11), got[0].ClassificationID)
	assert.Equal(t, int64(13), got[1].ClassificationID)

	for _, gold := range []int{GoldNegative, GoldPositive} {
		s.GoldLabel = gold
		assert.True(t, s.IsTraining(), "gold label %d", gold)
	}
}

func TestFileSourceSubjects(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "swap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
subjects:
  - subject_id: 20
    score: {"0": 0.4, "1": 0.6}
    gold_label: -1
    history:
      - classification_id: 0
      - classification_id: 201
        user_id: 5
        submitted_label: 1
        subject_score: 0.6
        user_score: {"0": [0.9, 0.1], "1": [0.2, 0.8]}
  - subject_id: 10
    score: {"0": 0.99, "1": 0.01}
    gold_label: 0
    retired_as: "0"
`), 0o600))

	subjects, err := NewFileSource(path).Subjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	assert.Equal(t, int64(10), subjects[0].SubjectID)
	require.NotNil(t, subjects[0].RetiredAs)
	assert.Equal(t, "0", *subjects[0].RetiredAs)

	second := subjects[1]
	assert.Equal(t, GoldNonTraining, second.GoldLabel)
	require.Len(t, second.History, 2)
	assert.True(t, second.History[0].IsPlaceholder())
	assert.Equal(t, [2]float64{0.2, 0.8}, second.History[1].UserScore["1"])
}

func TestFileSourceErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := NewFileSource(filepath.Join(t.TempDir(), "absent.yaml")).Subjects(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
	})

	t.Run("short confusion row", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "swap.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
subjects:
  - subject_id: 1
    history:
      - classification_id: 3
        user_score: {"0": [0.9], "1": [0.2, 0.8]}
`), 0o600))

		_, err := NewFileSource(path).Subjects(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewFileSource("unused.yaml").Subjects(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}
