package main

import (
	"github.com/spf13/cobra"

	"github.com/rendis/planit/pkg/mcp"
)

// Serve runs the MCP server on stdio.
var Serve = &cobra.Command{
	Use:   "serve",
	Short: "Serves the planit tools to MCP clients over stdio.",
	Long: `Serves the planit tools to MCP clients over stdio: planit.describe,
planit.validate, planit.submit and planit.actions.

Logs go to stderr; stdout carries the protocol.`,
	DisableFlagsInUseLine: true,
	Args:                  cobra.NoArgs,
	RunE:                  commandServe,
}

func commandServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := planitApp

	sched, release := a.scheduler()
	defer release()

	srv := mcp.NewPlanitServer(mcp.PlanitServerDeps{
		Loader:    a.loader,
		Registry:  a.registry,
		Scheduler: sched,
		Backend:   a.cfg.Backend,
		Policies:  a.policies,
		Metrics:   a.metrics,
		Logger:    a.logger,
		Version:   version,
	})

	a.serveMetrics(ctx)
	a.logger.Info("mcp server ready", "backend", a.cfg.Backend, "version", version)
	return srv.Serve(ctx)
}

func init() {
	Root.AddCommand(Serve)
}
