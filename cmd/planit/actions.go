package main

import (
	"encoding/json"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// Actions lists the registered actions, or shows one action's schema.
var Actions = &cobra.Command{
	Use:                   "actions [<name>]",
	Short:                 "Lists the actions plan steps can run.",
	Long:                  "Lists the actions plan steps can run. Given a name, prints that action's input and output schema.",
	DisableFlagsInUseLine: true,
	Args:                  cobra.MaximumNArgs(1),
	RunE:                  commandActions,
}

func commandActions(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		action, err := planitApp.registry.Get(args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(action.Schema(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("Action", "Description")
	for _, info := range planitApp.registry.List() {
		if err := table.Append([]string{info.Name, info.Description}); err != nil {
			return err
		}
	}
	return table.Render()
}

func init() {
	Root.AddCommand(Actions)
}
