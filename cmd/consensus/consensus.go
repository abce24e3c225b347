package consensus

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	core "github.com/d-kessler/CountertopDarkMatter/internal/consensus"
	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability"
)

// Command creates the consensus command, which ingests a classification
// batch and refines user weights and subject scores.
func Command(ctx *conf.Context) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "consensus",
		Short: "Ingest a classification batch and run consensus refinement",
		Long: `Ingest a CSV batch of classifications with the columns classification_id,
subject_id, user_id and label, then run the configured number of score and
weight refinement passes over the accumulated state. Without --input the
passes run over the stored state alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := Execute(cmd.Context(), ctx, input, nil)
			if err != nil {
				return err
			}
			return PrintSummary(cmd.OutOrStdout(), summary)
		},
	}

	setupFlags(cmd, &input)

	return cmd
}

// setupFlags configures flags specific to the consensus command.
func setupFlags(cmd *cobra.Command, input *string) {
	cmd.Flags().StringVarP(input, "input", "i", "", "Path to the classification batch CSV")
	cmd.Flags().IntP("iterations", "n", 1, "Number of refinement passes")
	cmd.Flags().String("mode", conf.AccumulatorCumulative, "Score accumulator mode: cumulative or reset")

	_ = viper.BindPFlag("consensus.iterations", cmd.Flags().Lookup("iterations"))
	_ = viper.BindPFlag("consensus.accumulator_mode", cmd.Flags().Lookup("mode"))
}

// Execute reads the batch at input and runs one engine run against the
// configured datastore. An empty input runs the passes over stored state only.
// Run metrics are recorded into m, or into a fresh registry when m is nil.
func Execute(runCtx context.Context, ctx *conf.Context, input string, m *observability.Metrics) (*core.RunSummary, error) {
	settings := ctx.Settings
	log := ctx.Logger

	var batch []core.Classification
	if input != "" {
		var err error
		if batch, err = ReadBatchFile(input); err != nil {
			return nil, err
		}
		log.Debug("classification batch read",
			logger.String("path", input),
			logger.Int("rows", len(batch)))
	}

	stores, err := datastore.Open(&settings.Datastore, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("failed to close datastore", logger.Error(err))
		}
	}()

	if m == nil {
		if m, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
	}

	engine, err := core.NewEngine(core.DatastoreStores(stores), &settings.Consensus,
		core.WithLogger(log),
		core.WithMetrics(m.Consensus))
	if err != nil {
		return nil, err
	}

	summary, runErr := engine.Run(runCtx, batch, settings.Consensus.Iterations)
	observability.PushIfEnabled(runCtx, m, &settings.Metrics, log)
	return summary, runErr
}

// AlreadyIngested reports whether every classification in the batch at input
// is already in the classification log. An empty batch is never ingested.
func AlreadyIngested(runCtx context.Context, ctx *conf.Context, input string) (bool, error) {
	batch, err := ReadBatchFile(input)
	if err != nil {
		return false, err
	}
	if len(batch) == 0 {
		return false, nil
	}

	stores, err := datastore.Open(&ctx.Settings.Datastore, ctx.Logger)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			ctx.Logger.Warn("failed to close datastore", logger.Error(err))
		}
	}()

	logged, err := stores.Classifications.ReadAll(runCtx)
	if err != nil {
		return false, err
	}
	ids := make(map[int64]struct{}, len(logged))
	for i := range logged {
		ids[logged[i].ClassificationID] = struct{}{}
	}
	for i := range batch {
		if _, ok := ids[batch[i].ClassificationID]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// PrintSummary writes a human readable run summary.
func PrintSummary(w io.Writer, s *core.RunSummary) error {
	_, err := fmt.Fprintf(w,
		"run %s: ingested %d classifications, %d passes (%s)\n"+
			"state: %d users, %d subjects, weights %.4f..%.4f\n",
		s.RunID, s.Ingested, s.Passes, s.AccumulatorMode,
		s.Users, s.Subjects, s.WeightMin, s.WeightMax)
	return err
}
