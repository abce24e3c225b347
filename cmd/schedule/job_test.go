package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kessler/CountertopDarkMatter/cmd/consensus"
	"github.com/d-kessler/CountertopDarkMatter/internal/buildinfo"
	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	cterrors "github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability"
)

const swapExport = `subjects:
  - subject_id: 500
    score: {"1": 0.95}
    gold_label: -1
    history:
      - classification_id: 61
        user_id: 1
        user_score: {"0": [0.9, 0.1], "1": [0.1, 0.9]}
        submitted_label: 1
        subject_score: 0.5
      - classification_id: 62
        user_id: 2
        user_score: {"0": [0.9, 0.1], "1": [0.1, 0.9]}
        submitted_label: 1
        subject_score: 0.9
`

type fixture struct {
	ctx         *conf.Context
	inbox       string
	manifestDir string
	recordsDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	f := &fixture{
		inbox:       filepath.Join(dir, "inbox"),
		manifestDir: filepath.Join(dir, "manifests"),
		recordsDir:  filepath.Join(dir, "records"),
	}
	require.NoError(t, os.MkdirAll(f.inbox, 0o755))

	swapFile := filepath.Join(dir, "swap.yaml")
	require.NoError(t, os.WriteFile(swapFile, []byte(swapExport), 0o600))

	stores := datastore.OpenFileStores(f.recordsDir)
	require.NoError(t, stores.Markings.Append(context.Background(),
		entities.Marking{ClassificationID: 61, SubjectID: 500, CenterX: 50, CenterY: 50, SemiAxisX: 10, SemiAxisY: 10},
		entities.Marking{ClassificationID: 62, SubjectID: 500, CenterX: 52, CenterY: 52, SemiAxisX: 10, SemiAxisY: 10},
	))

	f.ctx = conf.NewContext(buildinfo.NewContext("test", ""))
	f.ctx.Settings = &conf.Settings{
		Consensus: conf.ConsensusSettings{
			Iterations:      1,
			Labels:          []string{"negative", "tenebrite"},
			AccumulatorMode: conf.AccumulatorCumulative,
		},
		Promotion: conf.PromotionSettings{
			PositivePrior:  0.1,
			ThresholdRatio: 5,
			PositiveLabel:  "1",
			SwapSource:     conf.SwapSourceFile,
			SwapFile:       swapFile,
		},
		Datastore: conf.DatastoreSettings{
			Backend: conf.BackendFile,
			File:    conf.FileSettings{Dir: f.recordsDir},
		},
		Schedule: conf.ScheduleSettings{Cron: "@every 1h"},
	}
	return f
}

func (f *fixture) writeBatch(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.inbox, name), []byte(content), 0o600))
}

func TestJob_Run(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writeBatch(t, "002.csv", "classification_id,subject_id,user_id,label\n3,11,1,negative\n")
	f.writeBatch(t, "001.csv", "classification_id,subject_id,user_id,label\n1,10,1,tenebrite\n2,10,2,tenebrite\n")
	f.writeBatch(t, "notes.txt", "ignored")

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC))

	job := NewJob(f.ctx, f.inbox, f.manifestDir, m, clock)
	require.NoError(t, job.Run(context.Background()))

	pending, err := PendingBatches(f.inbox)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.FileExists(t, filepath.Join(f.inbox, processedDir, "001.csv"))
	assert.FileExists(t, filepath.Join(f.inbox, processedDir, "002.csv"))
	assert.FileExists(t, filepath.Join(f.inbox, "notes.txt"))

	stores := datastore.OpenFileStores(f.recordsDir)
	logged, err := stores.Classifications.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, logged, 3)

	promoted, err := stores.Promotions.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, "m1", promoted[0].FeatureID)

	assert.FileExists(t, filepath.Join(f.manifestDir, "promotion-20261015T120000Z.yaml"))
}

func TestJob_FailedBatchStopsTick(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writeBatch(t, "001.csv", "classification_id,subject_id,user_id,label\n1,10,1,unknown\n")

	job := NewJob(f.ctx, f.inbox, f.manifestDir, nil, nil)
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.True(t, cterrors.IsMalformedRecord(err))

	assert.FileExists(t, filepath.Join(f.inbox, "001.csv"), "failed batches stay in the inbox")
	assert.NoDirExists(t, f.manifestDir, "promotion does not run after a failed batch")
}

func TestJob_MovesAlreadyIngestedBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writeBatch(t, "001.csv", "classification_id,subject_id,user_id,label\n1,10,1,tenebrite\n2,10,2,tenebrite\n")

	// an earlier tick ingested the batch but never moved it
	_, err := consensus.Execute(context.Background(), f.ctx, filepath.Join(f.inbox, "001.csv"), nil)
	require.NoError(t, err)

	job := NewJob(f.ctx, f.inbox, f.manifestDir, nil, nil)
	require.NoError(t, job.Run(context.Background()))

	assert.NoFileExists(t, filepath.Join(f.inbox, "001.csv"))
	assert.FileExists(t, filepath.Join(f.inbox, processedDir, "001.csv"))

	stores := datastore.OpenFileStores(f.recordsDir)
	logged, err := stores.Classifications.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, logged, 2)

	promoted, err := stores.Promotions.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, promoted, 1, "promotion runs after the batch is moved")
}

func TestJob_PartlyIngestedBatchStopsTick(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writeBatch(t, "001.csv", "classification_id,subject_id,user_id,label\n1,10,1,tenebrite\n")
	job := NewJob(f.ctx, f.inbox, f.manifestDir, nil, nil)
	require.NoError(t, job.Run(context.Background()))

	f.writeBatch(t, "002.csv", "classification_id,subject_id,user_id,label\n1,10,1,tenebrite\n5,11,2,negative\n")
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.True(t, cterrors.IsDuplicateClassification(err))
	assert.FileExists(t, filepath.Join(f.inbox, "002.csv"))
}

func TestJob_MoveFailureDoesNotStopTick(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writeBatch(t, "001.csv", "classification_id,subject_id,user_id,label\n1,10,1,tenebrite\n2,10,2,tenebrite\n")

	// a plain file where the processed directory belongs blocks the move
	blocker := filepath.Join(f.inbox, processedDir)
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	job := NewJob(f.ctx, f.inbox, f.manifestDir, nil, nil)
	require.NoError(t, job.Run(context.Background()))
	assert.FileExists(t, filepath.Join(f.inbox, "001.csv"))

	stores := datastore.OpenFileStores(f.recordsDir)
	promoted, err := stores.Promotions.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, promoted, 1)

	// the next tick moves the batch without ingesting it twice
	require.NoError(t, os.Remove(blocker))
	require.NoError(t, job.Run(context.Background()))
	assert.FileExists(t, filepath.Join(f.inbox, processedDir, "001.csv"))

	logged, err := stores.Classifications.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, logged, 2)
}

func TestJob_NoInbox(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := NewJob(f.ctx, "", "", nil, nil)
	require.NoError(t, job.Run(context.Background()))

	promoted, err := datastore.OpenFileStores(f.recordsDir).Promotions.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, promoted, 1)
}

func TestPendingBatches_MissingInbox(t *testing.T) {
	t.Parallel()

	_, err := PendingBatches(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, cterrors.IsCategory(err, cterrors.CategoryFileIO))
}

func TestServe_InvalidCron(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ctx.Settings.Schedule.Cron = "every tuesday"

	err := Serve(context.Background(), f.ctx, NewJob(f.ctx, "", "", nil, nil), nil, false)
	require.Error(t, err)
	assert.True(t, cterrors.IsCategory(err, cterrors.CategoryConfiguration))
}

func TestServe_RunNowThenStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, Serve(runCtx, f.ctx, NewJob(f.ctx, "", "", m, nil), m, true))

	// the immediate tick ran against a cancelled context and did nothing
	promoted, err := datastore.OpenFileStores(f.recordsDir).Promotions.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, promoted)
}

type recordingLogger struct {
	logger.Logger
	debug  []string
	errors []any
}

func (r *recordingLogger) Debug(msg string, _ ...logger.Field) { r.debug = append(r.debug, msg) }

func (r *recordingLogger) Error(msg string, fields ...logger.Field) {
	for _, f := range fields {
		if f.Key == "error" {
			r.errors = append(r.errors, f.Value)
		}
	}
}

func TestCronLogger(t *testing.T) {
	t.Parallel()

	rec := &recordingLogger{}
	l := NewCronLogger(rec)
	l.Info("schedule", "now", 1, "entry")
	l.Error(errors.New("panic"), "recovered", "entry", 2)

	assert.Equal(t, []string{"schedule"}, rec.debug)
	require.Len(t, rec.errors, 1)
	assert.Equal(t, "panic", rec.errors[0])

	fields := toFields([]any{"a", 1, "b"})
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, 1, fields[0].Value)
	assert.Equal(t, "b", fields[1].Key)
	assert.Nil(t, fields[1].Value)
}
