package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability"
)

// jobTimeout bounds one tick so a stuck datastore cannot hold the schedule
const jobTimeout = 30 * time.Minute

// Command creates the schedule command, which runs consensus and promotion
// on the configured cron spec until interrupted.
func Command(ctx *conf.Context) *cobra.Command {
	var (
		inbox       string
		manifestDir string
		runNow      bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run consensus and promotion on a cron schedule",
		Long: `Run consensus over every CSV batch dropped into the inbox directory, then
promotion, on the cron spec in schedule.cron. Ingested batches are moved to
<inbox>/processed. A tick is skipped while the previous one is still running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := observability.NewMetrics()
			if err != nil {
				return err
			}
			job := NewJob(ctx, inbox, manifestDir, m, nil)
			return Serve(cmd.Context(), ctx, job, m, runNow)
		},
	}

	cmd.Flags().StringVar(&inbox, "inbox", "", "Directory polled for classification batch CSV files")
	cmd.Flags().StringVar(&manifestDir, "manifest-dir", "", "Directory for per-run promotion manifests")
	cmd.Flags().BoolVar(&runNow, "now", false, "Run once immediately before waiting for the schedule")

	return cmd
}

// Serve runs job on the configured cron spec until runCtx is cancelled. When
// metrics.listen is set the shared registry is served for scraping.
func Serve(runCtx context.Context, ctx *conf.Context, job *Job, m *observability.Metrics, runNow bool) error {
	log := ctx.Logger.Module("schedule")
	spec := ctx.Settings.Schedule.Cron

	cronLog := NewCronLogger(log)
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		cron.WithLogger(cronLog),
	)

	tick := func() {
		tickCtx, cancel := context.WithTimeout(runCtx, jobTimeout)
		defer cancel()
		if err := job.Run(tickCtx); err != nil {
			log.Error("scheduled run failed", logger.Error(err))
		}
	}

	if _, err := c.AddFunc(spec, tick); err != nil {
		return errors.New(fmt.Errorf("invalid schedule.cron %q: %w", spec, err)).
			Component("cli").
			Category(errors.CategoryConfiguration).
			Context("cron", spec).
			Build()
	}

	var wg sync.WaitGroup
	if listen := ctx.Settings.Metrics.Listen; listen != "" {
		endpoint, err := observability.NewEndpoint(listen, m, log)
		if err != nil {
			return err
		}
		endpoint.Start(&wg, runCtx.Done())
	}

	if runNow {
		tick()
	}

	c.Start()
	log.Info("scheduler started", logger.String("cron", spec))

	<-runCtx.Done()
	log.Info("scheduler stopping")
	<-c.Stop().Done()
	wg.Wait()
	return nil
}
