package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/planit/internal/executor/slurm"
	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/pkg/schema"
)

var (
	execOptions = struct {
		Action  string
		Payload string
	}{}

	// Exec runs one registered action. It is the command a Slurm job script
	// calls on the compute node.
	Exec = &cobra.Command{
		Use:   "exec --action <name> [--payload <json>]",
		Short: "Runs a registered action and prints its result as JSON.",
		Long: `Runs a registered action and prints its result as JSON.

The payload is a JSON object with optional "args" and "kwargs" members. A
failing action makes the command, and with it the batch job, fail.`,
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		RunE:                  commandExec,
	}
)

func commandExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if id := os.Getenv("SLURM_JOB_ID"); id != "" {
		ctx = logging.WithJobID(ctx, id)
	}

	action, err := planitApp.registry.Get(execOptions.Action)
	if err != nil {
		return err
	}

	var payload slurm.Payload
	if execOptions.Payload != "" {
		if err := json.Unmarshal([]byte(execOptions.Payload), &payload); err != nil {
			return schema.NewError(schema.ErrCodeParse, "invalid payload").WithCause(err)
		}
	}
	if inputSchema, ok := planitApp.registry.InputSchema(action.Name()); ok {
		if err := planitApp.loader.Validator().ValidateInput(payload.Kwargs, inputSchema); err != nil {
			return err
		}
	}

	planitApp.logger.DebugContext(ctx, "running action", "action", action.Name())
	result, err := action.Call(ctx, payload.Args, payload.Kwargs)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "action %s failed", action.Name()).WithCause(err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	Exec.Flags().StringVar(&execOptions.Action, "action", "", "Name of the registered action to run.")
	Exec.Flags().StringVar(&execOptions.Payload, "payload", "", "JSON object with the action's args and kwargs.")
	_ = Exec.MarkFlagRequired("action")
	Root.AddCommand(Exec)
}
