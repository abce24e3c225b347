package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

func TestIngest_CreatesEntitiesLazily(t *testing.T) {
	t.Parallel()

	state := NewState(testLabels)
	in := NewIngester(testLabels)

	require.NoError(t, in.Ingest(state, []Classification{
		cls(1, 10, 1, "tenebrite"),
		cls(2, 10, 2, "negative"),
		cls(3, 11, 1, "tenebrite"),
	}))

	require.Len(t, state.Users, 2)
	require.Len(t, state.Subjects, 2)

	u1 := state.Users[1]
	assert.InDelta(t, 1.0, u1.Weight, 0, "new users start at weight 1")
	assert.Equal(t, 2, u1.NSubjects)
	assert.Equal(t, []int64{1, 3}, []int64{u1.Classifications[0].ClassificationID, u1.Classifications[1].ClassificationID})

	s10 := state.Subjects[10]
	assert.Equal(t, map[string]int{"negative": 1, "tenebrite": 1}, s10.NUsers)
	assert.Equal(t, map[string]float64{"negative": 0, "tenebrite": 0}, s10.Score, "ingestion does not score")
	assert.Len(t, s10.Classifications, 2)

	assert.True(t, state.HasClassification(3))
	assert.Equal(t, []int64{10, 11}, state.SubjectIDs())
	assert.Equal(t, []int64{1, 2}, state.UserIDs())
}

func TestIngest_FailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	state := NewState(testLabels)
	in := NewIngester(testLabels)
	require.NoError(t, in.Ingest(state, []Classification{cls(1, 10, 1, "tenebrite")}))

	err := in.Ingest(state, []Classification{
		cls(2, 10, 2, "negative"),
		cls(3, 12, 3, "unknown"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedRecord(err))

	var enhanced *errors.EnhancedError
	require.True(t, errors.As(err, &enhanced))
	assert.Equal(t, int64(3), enhanced.GetContext()["classification_id"])

	assert.Len(t, state.Users, 1)
	assert.Len(t, state.Subjects, 1)
	assert.False(t, state.HasClassification(2))
	assert.Equal(t, 0, state.Subjects[10].NUsers["negative"])
}

func TestIngest_DuplicateAgainstState(t *testing.T) {
	t.Parallel()

	state := NewState(testLabels)
	in := NewIngester(testLabels)
	require.NoError(t, in.Ingest(state, []Classification{cls(5, 10, 1, "tenebrite")}))

	err := in.Ingest(state, []Classification{cls(5, 11, 2, "negative")})
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateClassification(err))
	assert.Len(t, state.Users, 1)
}

func TestState_WeightRange(t *testing.T) {
	t.Parallel()

	state := NewState(testLabels)
	lo, hi := state.WeightRange()
	assert.Zero(t, lo)
	assert.Zero(t, hi)

	state.Users[1] = &User{UserID: 1, Weight: 0.5}
	state.Users[2] = &User{UserID: 2, Weight: 1.5}
	state.Users[3] = &User{UserID: 3, Weight: 1}

	lo, hi = state.WeightRange()
	assert.InDelta(t, 0.5, lo, 0)
	assert.InDelta(t, 1.5, hi, 0)
}
