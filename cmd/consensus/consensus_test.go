package consensus

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kessler/CountertopDarkMatter/internal/buildinfo"
	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability"
)

func newTestContext(t *testing.T) *conf.Context {
	t.Helper()

	ctx := conf.NewContext(buildinfo.NewContext("test", ""))
	ctx.Settings = &conf.Settings{
		Consensus: conf.ConsensusSettings{
			Iterations:      2,
			Labels:          []string{"negative", "tenebrite"},
			AccumulatorMode: conf.AccumulatorCumulative,
		},
		Datastore: conf.DatastoreSettings{
			Backend: conf.BackendFile,
			File:    conf.FileSettings{Dir: filepath.Join(t.TempDir(), "records")},
		},
	}
	return ctx
}

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func counterValue(t *testing.T, m *observability.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.Len(t, f.GetMetric(), 1)
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestExecute_FileBackend(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	input := writeBatch(t, `classification_id,subject_id,user_id,label
1,10,1,tenebrite
2,10,2,tenebrite
3,11,1,negative
`)
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	summary, err := Execute(context.Background(), ctx, input, m)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Ingested)
	assert.Equal(t, 2, summary.Passes)
	assert.Equal(t, 2, summary.Users)
	assert.Equal(t, 2, summary.Subjects)
	assert.InDelta(t, 3.0, counterValue(t, m, "consensus_classifications_ingested_total"), 0)

	stores := datastore.OpenFileStores(ctx.Settings.Datastore.File.Dir)
	logged, err := stores.Classifications.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, logged, 3)

	var out bytes.Buffer
	require.NoError(t, PrintSummary(&out, summary))
	assert.Contains(t, out.String(), "ingested 3 classifications, 2 passes (cumulative)")
	assert.Contains(t, out.String(), "2 users, 2 subjects")
}

func TestExecute_RejectsDuplicateBatch(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	input := writeBatch(t, "classification_id,subject_id,user_id,label\n1,10,1,tenebrite\n")

	_, err := Execute(context.Background(), ctx, input, nil)
	require.NoError(t, err)

	_, err = Execute(context.Background(), ctx, input, nil)
	require.Error(t, err, "re-ingesting the same batch is a duplicate")
}

func TestExecute_StoredStateOnly(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	summary, err := Execute(context.Background(), ctx, "", nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Ingested)
	assert.Zero(t, summary.Users)
}
