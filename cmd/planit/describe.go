package main

import (
	"errors"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/schema"
	"github.com/rendis/planit/pkg/walltime"
)

var (
	// Describe prints a plan's tree and duration estimate.
	Describe = &cobra.Command{
		Use:                   "describe <plan-file>",
		Short:                 "Prints the plan tree and its estimated duration.",
		Long:                  "Prints the plan tree and its estimated duration, not taking queueing into account.",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		RunE:                  commandDescribe,
	}
	// Validate checks a plan file without submitting it.
	Validate = &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Checks a plan file against the plan schema, registered actions and resource policies.",
		Long: `Checks a plan file against the plan schema, registered actions and resource policies.

Warnings, such as empty chains or parallel groups, are listed but do not fail
the command.`,
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		RunE:                  commandValidate,
	}
)

func commandDescribe(cmd *cobra.Command, args []string) error {
	ctx, _ := logging.NewRun(cmd.Context())
	p, err := planitApp.loader.LoadFile(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, plan.Render(p))
	fmt.Fprintf(out, "time estimate (not taking queuing into account): %s\n", walltime.Format(p.EstimatedDuration()))
	return nil
}

var errInvalidPlan = errors.New("plan is invalid")

func commandValidate(cmd *cobra.Command, args []string) error {
	ctx, _ := logging.NewRun(cmd.Context())
	result := &schema.ValidationResult{}

	def, err := planitApp.loader.ReadFile(ctx, args[0])
	if err != nil {
		return err
	}
	result.Merge(planitApp.loader.Validate(ctx, def))
	if result.Valid() {
		p, err := planitApp.loader.Build(ctx, def)
		if err != nil {
			return err
		}
		result.Merge(planitApp.policies.Check(ctx, p))
	}

	out := cmd.OutOrStdout()
	issues := append(append([]schema.ValidationIssue(nil), result.Errors...), result.Warnings...)
	if len(issues) > 0 {
		table := tablewriter.NewWriter(out)
		table.Header("Severity", "Path", "Code", "Message")
		for _, is := range issues {
			if err := table.Append([]string{string(is.Severity), is.Path, is.Code, is.Message}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %d errors, %d warnings", errInvalidPlan, len(result.Errors), len(result.Warnings))
	}
	fmt.Fprintf(out, "%s is valid (%d warnings)\n", args[0], len(result.Warnings))
	return nil
}

func init() {
	Root.AddCommand(Describe)
	Root.AddCommand(Validate)
}
