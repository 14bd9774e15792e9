package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/planit/internal/scheduler"
	"github.com/rendis/planit/pkg/plan"
)

var (
	scheduleOptions = struct {
		Cron string
		Wait bool
	}{}

	// Schedule submits a plan file on a cron schedule until interrupted.
	Schedule = &cobra.Command{
		Use:   "schedule --cron <expr> [--wait] <plan-file>...",
		Short: "Submits plan files on a cron schedule.",
		Long: `Submits plan files on a cron schedule until interrupted.

Each file is read again on every run, so edits take effect at the next tick.
A run that is still in flight, for example one waiting on its jobs with
--wait, makes that file skip its next ticks instead of overlapping.`,
		Example: `planit schedule --cron "0 2 * * *" nightly.hcl
planit schedule --cron "@hourly" --wait --backend=local refresh.yaml`,
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		RunE:                  commandSchedule,
	}
)

func commandSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := planitApp

	sched, release := a.scheduler()
	defer release()

	s := scheduler.New(sched,
		scheduler.WithLogger(a.logger),
		scheduler.WithWait(scheduleOptions.Wait || a.localBackend()),
		scheduler.WithBeforeSubmit(a.beforeSubmit),
		scheduler.WithOnRun(func(r scheduler.Run) {
			if r.Err != nil {
				a.logger.Error("scheduled run failed", "entry", r.Entry, "plan", r.Plan, "error", r.Err)
				return
			}
			a.logger.Info("scheduled run submitted", "entry", r.Entry, "plan", r.Plan, "jobs", r.Jobs,
				"took", r.Finished.Sub(r.Started))
		}),
	)

	for _, path := range args {
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		source := scheduler.PlanSourceFunc(func(ctx context.Context) (*plan.Plan, error) {
			return a.loader.LoadFile(ctx, path)
		})
		if err := s.Add(id, scheduleOptions.Cron, source); err != nil {
			return err
		}
	}

	a.serveMetrics(ctx)
	if err := s.Start(ctx); err != nil {
		return err
	}
	for _, st := range s.Entries() {
		a.logger.Info("scheduled", "entry", st.ID, "cron", st.Cron, "next_run_at", st.NextRunAt)
	}

	<-ctx.Done()
	return s.Stop()
}

func init() {
	Schedule.Flags().StringVar(&scheduleOptions.Cron, "cron", "", `Cron expression or descriptor such as "@daily".`)
	Schedule.Flags().BoolVar(&scheduleOptions.Wait, "wait", false, "Wait for a run's jobs before the plan may run again.")
	_ = Schedule.MarkFlagRequired("cron")
	Root.AddCommand(Schedule)
}
