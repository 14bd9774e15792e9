package main

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/walltime"
)

var (
	submitOptions = struct {
		Wait bool
	}{}

	// Submit queues every step of a plan as a dependent batch job.
	Submit = &cobra.Command{
		Use:   "submit [--wait] <plan-file>",
		Short: "Submits every step of a plan as a batch job.",
		Long: `Submits every step of a plan as a batch job whose dependencies mirror the
plan's chains and parallel groups, then prints the job id of each step.

With --wait, or on the local backend, the command blocks until every job has
finished and exits non-zero if any of them failed.`,
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		RunE:                  commandSubmit,
	}
)

func commandSubmit(cmd *cobra.Command, args []string) error {
	ctx, runID := logging.NewRun(cmd.Context())
	p, err := planitApp.loader.LoadFile(ctx, args[0])
	if err != nil {
		return err
	}
	ctx = logging.WithPlan(ctx, p.Name())
	if err := planitApp.beforeSubmit(ctx, p); err != nil {
		return err
	}

	sched, release := planitApp.scheduler()
	defer release()

	p.Describe(ctx)
	if _, err := p.Submit(ctx, sched); err != nil {
		return err
	}
	planitApp.logger.InfoContext(ctx, "plan submitted", "backend", planitApp.cfg.Backend, "steps", len(p.Steps()))

	wait := submitOptions.Wait || planitApp.localBackend()
	var waitErr error
	if wait {
		waitErr = p.Wait(ctx)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: plan %s, estimate %s\n", runID, p.Name(), walltime.Format(p.EstimatedDuration()))
	if err := printJobs(ctx, out, p, wait); err != nil {
		return err
	}
	return waitErr
}

// printJobs renders one row per step. States are only looked up after a
// wait; a job stuck behind a failed dependency shows its current state.
func printJobs(ctx context.Context, w io.Writer, p *plan.Plan, waited bool) error {
	table := tablewriter.NewWriter(w)
	table.Header("Step", "Job", "Time", "Status")
	for _, st := range p.Steps() {
		id, status := "-", "NOT SUBMITTED"
		if job, ok := st.Job(); ok {
			id, status = job.ID(), "SUBMITTED"
			if waited {
				status, _ = plan.Status(ctx, job)
			}
		}
		if err := table.Append([]string{st.Name(), id, st.TimeLimit(), status}); err != nil {
			return err
		}
	}
	return table.Render()
}

func init() {
	Submit.Flags().BoolVar(&submitOptions.Wait, "wait", false, "Block until every job has finished.")
	Root.AddCommand(Submit)
}
