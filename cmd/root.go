// Package cmd assembles the countertop command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/d-kessler/CountertopDarkMatter/cmd/consensus"
	"github.com/d-kessler/CountertopDarkMatter/cmd/export"
	"github.com/d-kessler/CountertopDarkMatter/cmd/promote"
	"github.com/d-kessler/CountertopDarkMatter/cmd/schedule"
	"github.com/d-kessler/CountertopDarkMatter/cmd/swapimport"
	"github.com/d-kessler/CountertopDarkMatter/cmd/version"
	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *conf.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "countertop",
		Short:         "Consensus and feature promotion for Countertop Dark Matter classifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, ctx); err != nil {
		ctx.Logger.Warn("failed to bind global flags", logger.Error(err))
	}

	versionCmd := version.Command(ctx)

	subcommands := []*cobra.Command{
		consensus.Command(ctx),
		promote.Command(ctx),
		swapimport.Command(ctx),
		export.Command(ctx),
		schedule.Command(ctx),
		versionCmd,
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(ctx)
	}

	return rootCmd
}

// initialize loads configuration and sets up logging and error telemetry.
// Resources opened here are released by ctx.Close.
func initialize(ctx *conf.Context) error {
	settings, err := conf.Load(ctx.ConfigFile)
	if err != nil {
		return err
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	ctx.AddCloser(central.Close)

	ctx.Settings = settings
	ctx.Logger = central.Module("countertop")

	if err := telemetry.InitSentry(&settings.Sentry, ctx.Build, ctx.Logger); err != nil {
		return err
	}
	ctx.AddCloser(func() error {
		telemetry.Flush()
		return nil
	})

	ctx.Logger.Debug("configuration loaded",
		logger.String("backend", settings.Datastore.Backend),
		logger.String("version", ctx.Build.GetVersion()))
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *conf.Context) error {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
