package consensus

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability/metrics"
)

var testLabels = []string{"negative", "tenebrite"}

// memStore is an in-memory RecordStore with injectable write failures.
type memStore[T any] struct {
	rows       []T
	appendErr  error
	rewriteErr error
	rewrites   int
}

func (s *memStore[T]) ReadAll(context.Context) ([]T, error) {
	return slices.Clone(s.rows), nil
}

func (s *memStore[T]) Append(_ context.Context, rows ...T) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *memStore[T]) ClearAndRewrite(_ context.Context, rows []T) error {
	if s.rewriteErr != nil {
		return s.rewriteErr
	}
	s.rewrites++
	s.rows = slices.Clone(rows)
	return nil
}

type testStores struct {
	classifications *memStore[Classification]
	users           *memStore[User]
	subjects        *memStore[Subject]
}

func newTestStores() *testStores {
	return &testStores{
		classifications: &memStore[Classification]{},
		users:           &memStore[User]{},
		subjects:        &memStore[Subject]{},
	}
}

func (s *testStores) stores() Stores {
	return Stores{Classifications: s.classifications, Users: s.users, Subjects: s.subjects}
}

func (s *testStores) user(t *testing.T, id int64) User {
	t.Helper()
	for _, u := range s.users.rows {
		if u.UserID == id {
			return u
		}
	}
	t.Fatalf("user %d not persisted", id)
	return User{}
}

func (s *testStores) subject(t *testing.T, id int64) Subject {
	t.Helper()
	for _, subj := range s.subjects.rows {
		if subj.SubjectID == id {
			return subj
		}
	}
	t.Fatalf("subject %d not persisted", id)
	return Subject{}
}

func newTestEngine(t *testing.T, stores Stores, mode string, opts ...Option) *Engine {
	t.Helper()

	base := []Option{
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelError, nil)),
		WithClock(clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))),
	}
	e, err := NewEngine(stores, &conf.ConsensusSettings{
		Iterations:      1,
		Labels:          testLabels,
		AccumulatorMode: mode,
	}, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func cls(id, subject, user int64, label string) Classification {
	return Classification{ClassificationID: id, SubjectID: subject, UserID: user, Label: label}
}

func meanWeight(users []User) float64 {
	var sum float64
	for _, u := range users {
		sum += u.Weight
	}
	return sum / float64(len(users))
}

func TestEngine_UnanimousSubject(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative,
		WithRunIDGenerator(func() string { return "run-a" }))

	summary, err := e.Run(context.Background(), []Classification{
		cls(1, 10, 1, "tenebrite"),
		cls(2, 10, 2, "tenebrite"),
		cls(3, 10, 3, "tenebrite"),
	}, 1)
	require.NoError(t, err)

	assert.Equal(t, "run-a", summary.RunID)
	assert.Equal(t, 3, summary.Ingested)
	assert.Equal(t, 3, summary.Users)
	assert.Equal(t, 1, summary.Subjects)

	subj := ts.subject(t, 10)
	assert.InDelta(t, 1.0, subj.Score["tenebrite"], 1e-12)
	assert.InDelta(t, 0.0, subj.Score["negative"], 1e-12)
	assert.InDelta(t, 3.0, subj.UserWeightSum, 1e-12)
	assert.Equal(t, 3, subj.NUsers["tenebrite"])
	assert.Equal(t, 0, subj.NUsers["negative"])

	for _, id := range []int64{1, 2, 3} {
		assert.InDelta(t, 1.0, ts.user(t, id).Weight, 1e-12, "user %d", id)
	}
	assert.Len(t, ts.classifications.rows, 3, "batch should be appended to the classification log")
}

func TestEngine_DisagreementLowersWeight(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)

	_, err := e.Run(context.Background(), []Classification{
		cls(1, 10, 1, "tenebrite"),
		cls(2, 10, 2, "tenebrite"),
		cls(3, 10, 3, "negative"),
	}, 1)
	require.NoError(t, err)

	subj := ts.subject(t, 10)
	assert.InDelta(t, 1.0, subj.Score["tenebrite"], 1e-12)
	assert.InDelta(t, 1.0/3.0, subj.Score["negative"], 1e-12)

	// Before rescaling the weights are 1, 1 and 2/3, mean 8/9.
	assert.InDelta(t, 9.0/8.0, ts.user(t, 1).Weight, 1e-12)
	assert.InDelta(t, 9.0/8.0, ts.user(t, 2).Weight, 1e-12)
	assert.InDelta(t, 0.75, ts.user(t, 3).Weight, 1e-12)
	assert.InDelta(t, 1.0, meanWeight(ts.users.rows), 1e-12)
}

func TestEngine_Properties(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{conf.AccumulatorCumulative, conf.AccumulatorReset} {
		t.Run(mode, func(t *testing.T) {
			t.Parallel()

			rng := rand.New(rand.NewPCG(7, 11))
			ts := newTestStores()
			e := newTestEngine(t, ts.stores(), mode)

			var nextID int64
			for run := range 3 {
				batch := make([]Classification, 0, 40)
				for range 40 {
					nextID++
					batch = append(batch, cls(nextID,
						int64(rng.IntN(8)+1),
						int64(rng.IntN(6)+1),
						testLabels[rng.IntN(len(testLabels))]))
				}

				_, err := e.Run(context.Background(), batch, 3)
				require.NoError(t, err, "run %d", run)

				assert.InDelta(t, 1.0, meanWeight(ts.users.rows), 1e-9, "mean weight after run %d", run)
				for _, u := range ts.users.rows {
					assert.GreaterOrEqual(t, u.Weight, 0.0)
				}
				for _, subj := range ts.subjects.rows {
					for label, score := range subj.Score {
						assert.GreaterOrEqual(t, score, 0.0, "subject %d %s", subj.SubjectID, label)
						assert.LessOrEqual(t, score, 1.0+1e-12, "subject %d %s", subj.SubjectID, label)
					}
					assert.Len(t, subj.Score, len(testLabels))
				}
			}
			assert.Len(t, ts.classifications.rows, 120)
		})
	}
}

func TestEngine_AccumulatorModes(t *testing.T) {
	t.Parallel()

	batch := []Classification{
		cls(1, 10, 1, "tenebrite"),
		cls(2, 10, 2, "tenebrite"),
		cls(3, 10, 3, "tenebrite"),
	}

	tests := []struct {
		mode      string
		wantUWS   float64
		wantNSubj int
	}{
		// Every pass keeps adding to the running sums.
		{conf.AccumulatorCumulative, 6, 3},
		// Every pass starts the sums from zero.
		{conf.AccumulatorReset, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			t.Parallel()

			ts := newTestStores()
			e := newTestEngine(t, ts.stores(), tt.mode)

			_, err := e.Run(context.Background(), batch, 2)
			require.NoError(t, err)

			subj := ts.subject(t, 10)
			assert.InDelta(t, tt.wantUWS, subj.UserWeightSum, 1e-12)
			assert.InDelta(t, 1.0, subj.Score["tenebrite"], 1e-12)
			assert.Equal(t, tt.wantNSubj, ts.user(t, 1).NSubjects)
		})
	}
}

func TestEngine_Snapshots(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative,
		WithRunIDGenerator(func() string { return "run-snap" }))

	_, err := e.Run(context.Background(), []Classification{
		cls(1, 10, 1, "tenebrite"),
		cls(2, 11, 1, "negative"),
	}, 3)
	require.NoError(t, err)

	subj := ts.subject(t, 10)
	require.Len(t, subj.ScoreHistory, 3, "one score snapshot per pass")
	for i, snap := range subj.ScoreHistory {
		assert.Equal(t, entities.SnapshotSchemaVersion, snap.SchemaVersion)
		assert.Equal(t, "run-snap", snap.RunID)
		assert.Equal(t, i+1, snap.Pass)
		assert.Len(t, snap.Score, len(testLabels))
	}

	user := ts.user(t, 1)
	require.Len(t, user.WeightHistory, 3, "one weight snapshot per pass")
	assert.Equal(t, 3, user.WeightHistory[2].Pass)

	// Snapshots hold copies, not the live score map.
	subj.ScoreHistory[0].Score["tenebrite"] = -1
	assert.InDelta(t, 1.0, subj.Score["tenebrite"], 1e-12)
}

func TestEngine_ZeroIterations(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)

	summary, err := e.Run(context.Background(), []Classification{cls(1, 10, 1, "tenebrite")}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Passes)

	subj := ts.subject(t, 10)
	assert.InDelta(t, 0.0, subj.Score["tenebrite"], 0)
	assert.Equal(t, 1, subj.NUsers["tenebrite"])
	assert.Empty(t, subj.ScoreHistory)
	assert.InDelta(t, 1.0, ts.user(t, 1).Weight, 0)
	assert.Equal(t, 1, ts.user(t, 1).NSubjects)
}

func TestEngine_IncrementalRuns(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)
	ctx := context.Background()

	_, err := e.Run(ctx, []Classification{cls(1, 10, 1, "tenebrite")}, 1)
	require.NoError(t, err)
	_, err = e.Run(ctx, []Classification{cls(2, 10, 2, "tenebrite"), cls(3, 11, 1, "negative")}, 1)
	require.NoError(t, err)

	assert.Len(t, ts.users.rows, 2)
	assert.Len(t, ts.subjects.rows, 2)
	assert.Len(t, ts.user(t, 1).Classifications, 2)
	assert.Len(t, ts.subject(t, 10).Classifications, 2)

	_, err = e.Run(ctx, []Classification{cls(1, 12, 3, "negative")}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateClassification(err), "ids from earlier runs must be rejected")
}

func TestEngine_RejectsInvalidBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		batch []Classification
		check func(error) bool
	}{
		{"unknown label", []Classification{cls(1, 10, 1, "tenebrite"), cls(2, 10, 2, "meteorite")}, errors.IsMalformedRecord},
		{"missing label", []Classification{cls(1, 10, 1, "")}, errors.IsMalformedRecord},
		{"missing user", []Classification{cls(1, 10, 0, "negative")}, errors.IsMalformedRecord},
		{"missing subject", []Classification{cls(1, 0, 1, "negative")}, errors.IsMalformedRecord},
		{"missing id", []Classification{cls(0, 10, 1, "negative")}, errors.IsMalformedRecord},
		{"duplicate in batch", []Classification{cls(1, 10, 1, "negative"), cls(1, 11, 2, "tenebrite")}, errors.IsDuplicateClassification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestStores()
			e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)

			_, err := e.Run(context.Background(), tt.batch, 1)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error category: %v", err)

			assert.Empty(t, ts.classifications.rows, "nothing may be persisted")
			assert.Zero(t, ts.users.rewrites)
			assert.Zero(t, ts.subjects.rewrites)
		})
	}
}

func TestEngine_NegativeIterations(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)

	_, err := e.Run(context.Background(), nil, -1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestEngine_MissingReferencedUser(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	ts.subjects.rows = []Subject{{
		SubjectID:       10,
		Score:           map[string]float64{"negative": 0, "tenebrite": 0},
		NUsers:          map[string]int{"negative": 0, "tenebrite": 1},
		Classifications: []Classification{cls(1, 10, 99, "tenebrite")},
	}}
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)

	_, err := e.Run(context.Background(), nil, 1)
	require.Error(t, err)
	assert.True(t, errors.IsMissingEntity(err))
	assert.Zero(t, ts.subjects.rewrites)
}

func TestEngine_ZeroWeightDegeneracy(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	ts.users.rows = []User{{
		UserID:          1,
		Weight:          0,
		NSubjects:       1,
		Classifications: []Classification{cls(1, 10, 1, "tenebrite")},
	}}
	ts.subjects.rows = []Subject{{
		SubjectID:       10,
		Classifications: []Classification{cls(1, 10, 1, "tenebrite")},
	}}
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)

	_, err := e.Run(context.Background(), nil, 1)
	require.Error(t, err)
	assert.True(t, errors.IsArithmeticDegeneracy(err))
}

func TestEngine_PersistFailure(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	ts.subjects.rewriteErr = fmt.Errorf("disk full")
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)

	batch := []Classification{cls(1, 10, 1, "tenebrite")}
	_, err := e.Run(context.Background(), batch, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, ts.classifications.rows, "the log is written last")

	// without a transaction the users already hold the batch, so a retry is
	// rejected instead of merging it a second time
	ts.subjects.rewriteErr = nil
	_, err = e.Run(context.Background(), batch, 1)
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateClassification(err))
	assert.Len(t, ts.user(t, 1).Classifications, 1)
}

// failingRewrite fails every ClearAndRewrite of the wrapped store.
type failingRewrite[T any] struct {
	datastore.RecordStore[T]
	err error
}

func (f failingRewrite[T]) ClearAndRewrite(context.Context, []T) error {
	return f.err
}

func TestEngine_PersistFailureRollsBack(t *testing.T) {
	t.Parallel()

	backends := map[string]func(t *testing.T) *datastore.Stores{
		"sqlite": func(t *testing.T) *datastore.Stores {
			ds, err := datastore.Open(&conf.DatastoreSettings{
				Backend: conf.BackendSQLite,
				SQLite:  conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "countertop.db")},
			}, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = ds.Close() })
			return ds
		},
		"file": func(t *testing.T) *datastore.Stores {
			return datastore.OpenFileStores(t.TempDir())
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ds := open(t)
			ctx := context.Background()

			failSubjects := true
			stores := DatastoreStores(ds)
			commit := stores.Transaction
			stores.Transaction = func(ctx context.Context, fn func(Stores) error) error {
				return commit(ctx, func(tx Stores) error {
					if failSubjects {
						tx.Subjects = failingRewrite[Subject]{RecordStore: tx.Subjects, err: fmt.Errorf("disk full")}
					}
					return fn(tx)
				})
			}
			e := newTestEngine(t, stores, conf.AccumulatorCumulative)
			batch := []Classification{cls(1, 10, 1, "tenebrite")}

			_, err := e.Run(ctx, batch, 1)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "disk full")

			users, err := ds.Users.ReadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, users, "users roll back with the failed subjects write")
			logged, err := ds.Classifications.ReadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, logged)

			failSubjects = false
			_, err = e.Run(ctx, batch, 1)
			require.NoError(t, err, "the same batch succeeds once storage recovers")

			users, err = ds.Users.ReadAll(ctx)
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.Len(t, users[0].Classifications, 1)

			logged, err = ds.Classifications.ReadAll(ctx)
			require.NoError(t, err)
			assert.Len(t, logged, 1)

			subjects, err := ds.Subjects.ReadAll(ctx)
			require.NoError(t, err)
			require.Len(t, subjects, 1)
			assert.Len(t, subjects[0].Classifications, 1)

			_, err = e.Run(ctx, batch, 1)
			require.Error(t, err)
			assert.True(t, errors.IsDuplicateClassification(err))
		})
	}
}

func TestLoadState_SeenFromLog(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	ts.classifications.rows = []Classification{cls(7, 10, 1, "tenebrite")}
	ts.users.rows = []User{{UserID: 2, Weight: 1, Classifications: []Classification{cls(8, 11, 2, "negative")}}}

	state, err := LoadState(context.Background(), ts.stores(), testLabels)
	require.NoError(t, err)
	assert.True(t, state.HasClassification(7), "ids in the log are ingested")
	assert.True(t, state.HasClassification(8), "ids in a user history are ingested")
	assert.False(t, state.HasClassification(9))
}

func TestEngine_CancelledContext(t *testing.T) {
	t.Parallel()

	ts := newTestStores()
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, []Classification{cls(1, 10, 1, "tenebrite")}, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ts.classifications.rows)
}

func TestEngine_FakeClockAndMetrics(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC))
	m, err := metrics.NewConsensusMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	ts := newTestStores()
	e := newTestEngine(t, ts.stores(), conf.AccumulatorCumulative, WithClock(clock), WithMetrics(m))

	summary, err := e.Run(context.Background(), []Classification{cls(1, 10, 1, "tenebrite")}, 2)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), summary.StartedAt)
	assert.Zero(t, summary.Duration, "a fake clock does not advance on its own")
	assert.Equal(t, conf.AccumulatorCumulative, summary.AccumulatorMode)
}

func TestEngine_FileBackend(t *testing.T) {
	t.Parallel()

	stores := datastore.OpenFileStores(t.TempDir())
	e := newTestEngine(t, Stores{
		Classifications: stores.Classifications,
		Users:           stores.Users,
		Subjects:        stores.Subjects,
	}, conf.AccumulatorCumulative)
	ctx := context.Background()

	_, err := e.Run(ctx, []Classification{
		cls(1, 10, 1, "tenebrite"),
		cls(2, 10, 2, "tenebrite"),
		cls(3, 10, 3, "tenebrite"),
	}, 1)
	require.NoError(t, err)

	subjects, err := stores.Subjects.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.InDelta(t, 1.0, subjects[0].Score["tenebrite"], 1e-12)
	assert.InDelta(t, 3.0, subjects[0].UserWeightSum, 1e-12)
	require.Len(t, subjects[0].ScoreHistory, 1)

	users, err := stores.Users.ReadAll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, meanWeight(users), 1e-12)
}

func TestNewEngine_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings conf.ConsensusSettings
	}{
		{"no labels", conf.ConsensusSettings{AccumulatorMode: conf.AccumulatorCumulative}},
		{"unknown mode", conf.ConsensusSettings{Labels: testLabels, AccumulatorMode: "rolling"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewEngine(newTestStores().stores(), &tt.settings)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestRescale_NoUsers(t *testing.T) {
	t.Parallel()

	require.NoError(t, rescale(NewState(testLabels)))
}

func TestRescale_NonFiniteMean(t *testing.T) {
	t.Parallel()

	state := NewState(testLabels)
	state.Users[1] = &User{UserID: 1, Weight: math.Inf(1)}

	err := rescale(state)
	require.Error(t, err)
	assert.True(t, errors.IsArithmeticDegeneracy(err))
}
