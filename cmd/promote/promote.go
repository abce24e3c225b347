package promote

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability"
	"github.com/d-kessler/CountertopDarkMatter/internal/promotion"
	"github.com/d-kessler/CountertopDarkMatter/internal/swap"
)

// Command creates the promote command, which turns high scoring SWAP
// subjects into promoted features.
func Command(ctx *conf.Context) *cobra.Command {
	var manifest string

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote marking clusters of high scoring subjects to features",
		Long: `Select non-training SWAP subjects whose positive score passes the promotion
threshold, cluster their positive markings and fuse the evidence of each
cluster. Clusters above the threshold are stored as promoted features.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, threshold, err := Execute(cmd.Context(), ctx, manifest, nil)
			if err != nil {
				return err
			}
			return PrintSummary(cmd.OutOrStdout(), res, threshold)
		},
	}

	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "Write emitted features to this YAML file")

	return cmd
}

// Execute runs one promotion pass against the configured datastore and SWAP
// source. It returns the run result and the threshold that was applied.
// Run metrics are recorded into m, or into a fresh registry when m is nil.
func Execute(runCtx context.Context, ctx *conf.Context, manifest string, m *observability.Metrics) (*promotion.Result, float64, error) {
	settings := ctx.Settings
	log := ctx.Logger

	stores, err := datastore.Open(&settings.Datastore, log)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("failed to close datastore", logger.Error(err))
		}
	}()

	source, err := swapSource(&settings.Promotion, stores)
	if err != nil {
		return nil, 0, err
	}

	if m == nil {
		if m, err = observability.NewMetrics(); err != nil {
			return nil, 0, err
		}
	}

	markings := promotion.NewCachedMarkingSource(stores.MarkingLookup, settings.Promotion.MarkingCacheTTL, m.Promotion)

	decider, err := promotion.NewDecider(source, markings, stores.Promotions, &settings.Promotion,
		promotion.WithLogger(log),
		promotion.WithMetrics(m.Promotion))
	if err != nil {
		return nil, 0, err
	}

	res, runErr := decider.Run(runCtx)
	observability.PushIfEnabled(runCtx, m, &settings.Metrics, log)
	if runErr != nil {
		return nil, 0, runErr
	}

	if manifest != "" {
		if err := WriteManifest(manifest, NewManifest(res, decider.Threshold())); err != nil {
			return nil, 0, err
		}
		log.Info("promotion manifest written",
			logger.String("path", manifest),
			logger.Int("features", len(res.Records)))
	}
	return res, decider.Threshold(), nil
}

// swapSource selects where SWAP subjects are read from.
func swapSource(settings *conf.PromotionSettings, stores *datastore.Stores) (swap.Source, error) {
	switch settings.SwapSource {
	case conf.SwapSourceFile:
		return swap.NewFileSource(settings.SwapFile), nil
	case conf.SwapSourceDatabase:
		return datastore.NewSwapSnapshotSource(stores.SwapSubjects), nil
	default:
		return nil, errors.Newf("unknown swap source %q", settings.SwapSource).
			Component("cli").
			Category(errors.CategoryConfiguration).
			Context("swap_source", settings.SwapSource).
			Build()
	}
}

// PrintSummary writes a human readable run summary.
func PrintSummary(w io.Writer, res *promotion.Result, threshold float64) error {
	if _, err := fmt.Fprintf(w,
		"run %s: %d candidates above %.4f, %d clusters, %d features promoted, %d fusion fallbacks\n",
		res.RunID, res.Candidates, threshold, res.Clusters, len(res.Records), res.FusionFallbacks); err != nil {
		return err
	}

	for i := range res.Records {
		r := &res.Records[i]
		if _, err := fmt.Fprintf(w, "  %s subject=%d p=%.4f classifications=%v\n",
			r.FeatureID, r.SubjectID, r.PositiveProbability, r.ClassificationIDs); err != nil {
			return err
		}
	}
	if len(res.RetiredSubjects) > 0 {
		if _, err := fmt.Fprintf(w, "retire subjects: %v\n", res.RetiredSubjects); err != nil {
			return err
		}
	}
	for _, id := range slices.Sorted(maps.Keys(res.SubjectErrors)) {
		if _, err := fmt.Fprintf(w, "skipped subject %d: %v\n", id, res.SubjectErrors[id]); err != nil {
			return err
		}
	}
	return nil
}
