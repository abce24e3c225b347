package schedule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/d-kessler/CountertopDarkMatter/cmd/consensus"
	"github.com/d-kessler/CountertopDarkMatter/cmd/promote"
	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability"
)

// processedDir receives batches once they have been ingested
const processedDir = "processed"

// Job is one scheduled tick: ingest every pending batch in the inbox, then
// run promotion.
type Job struct {
	ctx         *conf.Context
	inbox       string
	manifestDir string
	metrics     *observability.Metrics
	clock       clockwork.Clock
}

// NewJob returns a Job reading CSV batches from inbox. An empty inbox skips
// consensus; an empty manifestDir skips manifest output.
func NewJob(ctx *conf.Context, inbox, manifestDir string, m *observability.Metrics, clock clockwork.Clock) *Job {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Job{ctx: ctx, inbox: inbox, manifestDir: manifestDir, metrics: m, clock: clock}
}

// Run processes pending batches in name order. A failed batch stays in the
// inbox and stops the tick before promotion, so state never skips a batch.
// A batch whose classifications are all in the log already was ingested by an
// earlier tick that could not move it; it is moved now instead of failing.
func (j *Job) Run(runCtx context.Context) error {
	log := j.ctx.Logger.Module("schedule")

	batches, err := PendingBatches(j.inbox)
	if err != nil {
		return err
	}
	for _, path := range batches {
		summary, err := consensus.Execute(runCtx, j.ctx, path, j.metrics)
		if err != nil {
			if !errors.IsDuplicateClassification(err) {
				return err
			}
			ingested, checkErr := consensus.AlreadyIngested(runCtx, j.ctx, path)
			if checkErr != nil || !ingested {
				return err
			}
			log.Warn("batch already ingested, moving it out of the inbox",
				logger.String("path", path))
			j.markProcessed(log, path)
			continue
		}
		log.Info("batch ingested",
			logger.String("path", path),
			logger.String("run_id", summary.RunID),
			logger.Int("ingested", summary.Ingested))
		j.markProcessed(log, path)
	}

	manifest := ""
	if j.manifestDir != "" {
		manifest = filepath.Join(j.manifestDir,
			fmt.Sprintf("promotion-%s.yaml", j.clock.Now().UTC().Format("20060102T150405Z")))
	}
	res, _, err := promote.Execute(runCtx, j.ctx, manifest, j.metrics)
	if err != nil {
		return err
	}
	log.Info("scheduled promotion finished",
		logger.String("run_id", res.RunID),
		logger.Int("batches", len(batches)),
		logger.Int("promoted", len(res.Records)))
	return nil
}

// markProcessed moves an ingested batch aside. A batch left behind is picked
// up and moved by the next tick, so a failure here does not stop this one.
func (j *Job) markProcessed(log logger.Logger, path string) {
	if err := MarkProcessed(path); err != nil {
		log.Warn("failed to move ingested batch",
			logger.String("path", path),
			logger.Error(err))
	}
}

// PendingBatches lists the .csv files directly inside inbox, sorted by name.
func PendingBatches(inbox string) ([]string, error) {
	if inbox == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(inbox)
	if err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryFileIO).
			Context("inbox", inbox).
			Build()
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		out = append(out, filepath.Join(inbox, e.Name()))
	}
	slices.Sort(out)
	return out, nil
}

// MarkProcessed moves an ingested batch into the inbox's processed directory.
func MarkProcessed(path string) error {
	dest := filepath.Join(filepath.Dir(path), processedDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return processedError(err, path)
	}
	if err := os.Rename(path, filepath.Join(dest, filepath.Base(path))); err != nil {
		return processedError(err, path)
	}
	return nil
}

func processedError(err error, path string) error {
	return errors.New(err).
		Component("cli").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Context("operation", "mark_processed").
		Build()
}
