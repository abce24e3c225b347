package swapimport

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/swap"
)

// Command creates the swap-import command, which loads a SWAP export into
// the datastore snapshot table read by promote when swap_source is database.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap-import [swap.yaml]",
		Short: "Replace the stored SWAP snapshot with a YAML export",
		Long: `Replace the SWAP subject snapshot in the datastore with the subjects of a
YAML export. Without an argument the configured promotion.swap_file is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.Settings.Promotion.SwapFile
			if len(args) == 1 {
				path = args[0]
			}

			n, err := Execute(cmd.Context(), ctx, path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d SWAP subjects from %s\n", n, path)
			return err
		},
	}

	return cmd
}

// Execute replaces the snapshot with the subjects in path and returns how
// many were stored.
func Execute(runCtx context.Context, ctx *conf.Context, path string) (int, error) {
	log := ctx.Logger

	subjects, err := swap.NewFileSource(path).Subjects(runCtx)
	if err != nil {
		return 0, err
	}

	stores, err := datastore.Open(&ctx.Settings.Datastore, log)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("failed to close datastore", logger.Error(err))
		}
	}()

	if err := datastore.NewSwapSnapshotSource(stores.SwapSubjects).Replace(runCtx, subjects); err != nil {
		return 0, err
	}

	log.Info("swap snapshot imported",
		logger.String("path", path),
		logger.Int("subjects", len(subjects)))
	return len(subjects), nil
}
