package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/planit/
var version = "dev"

// Version prints the build version.
var Version = &cobra.Command{
	Use:   "version",
	Short: "Prints the planit version.",
	Args:  cobra.NoArgs,
	// Skips settings loading.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	Root.AddCommand(Version)
}
