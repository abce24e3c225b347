// Package export copies datastore contents from the configured backend to
// another one, for example when moving a lab sqlite file to shared mysql.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

// Options control one export run.
type Options struct {
	TargetConfig string
	Clean        bool
	SkipVerify   bool
	Verbose      bool
}

// Command creates the export command.
func Command(ctx *conf.Context) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy all datastore collections to another backend",
		Long: `Copy classifications, consensus state, markings, the SWAP snapshot and
promoted features from the configured datastore to the backend described by
the datastore section of --target.

Records whose key already exists in the target are skipped unless --clean
is given, in which case each target collection is replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Execute(cmd.Context(), ctx, &opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.TargetConfig, "target", "t", "", "Config file whose datastore section describes the target")
	cmd.Flags().BoolVar(&opts.Clean, "clean", false, "Replace target collections instead of merging")
	cmd.Flags().BoolVar(&opts.SkipVerify, "skip-verify", false, "Skip post-export count verification")
	cmd.Flags().BoolVar(&opts.Verbose, "verbose", false, "Print source and target before exporting")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

// Execute runs one export and prints its statistics to w.
func Execute(runCtx context.Context, ctx *conf.Context, opts *Options, w io.Writer) error {
	log := ctx.Logger

	target, err := conf.LoadDatastoreSettings(opts.TargetConfig)
	if err != nil {
		return errors.New(err).
			Component("cli").
			Category(errors.CategoryConfiguration).
			Context("target", opts.TargetConfig).
			Build()
	}

	source := &ctx.Settings.Datastore
	if source.Describe() == target.Describe() {
		return errors.Newf("export source and target are the same backend").
			Component("cli").
			Category(errors.CategoryValidation).
			Context("backend", source.Describe()).
			Build()
	}

	if opts.Verbose {
		fmt.Fprintf(w, "Source: %s\nTarget: %s\nClean mode: %v\n\n", source.Describe(), target.Describe(), opts.Clean)
	}

	src, err := datastore.Open(source, log)
	if err != nil {
		return err
	}
	defer closeStores(src, log)

	dst, err := datastore.Open(target, log)
	if err != nil {
		return err
	}
	defer closeStores(dst, log)

	exporter := datastore.NewExporter(src, dst,
		datastore.WithClean(opts.Clean),
		datastore.WithExportLogger(log))

	stats, err := exporter.Run(runCtx)
	if err != nil {
		return err
	}
	stats.Print(w)

	if opts.SkipVerify {
		return nil
	}
	if err := exporter.Verify(runCtx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, "\nVerification passed")
	return err
}

func closeStores(s *datastore.Stores, log logger.Logger) {
	if err := s.Close(); err != nil {
		log.Warn("failed to close datastore", logger.Error(err))
	}
}
