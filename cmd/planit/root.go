package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	settings = newSettings()

	rootOptions = struct {
		ConfigFile string
	}{}

	// planitApp is built from the merged settings before any command runs.
	planitApp *app

	// Root is the planit command.
	Root = &cobra.Command{
		Use:   "planit",
		Short: "Describe, validate and submit plans of dependent batch jobs.",
		Long: `planit turns a plan of steps, chains and parallel groups into batch jobs
whose dependencies mirror the plan's structure.

Plans are read from JSON, YAML or HCL files. Jobs run on a Slurm cluster or,
with --backend=local, inside this process.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(settings, rootOptions.ConfigFile)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	planitApp = a
	return nil
}

func init() {
	flags := Root.PersistentFlags()
	flags.StringVar(&rootOptions.ConfigFile, "config", "", "Settings file (default: ~/.planit/settings.{json,yaml}).")
	flags.String("backend", "", "Scheduler backend: slurm or local.")
	flags.String("log-level", "", "Log level: debug, info, warn or error.")
	flags.String("log-format", "", "Log format: text or json.")
	flags.Int("pool-size", 0, "Jobs the local backend runs at once.")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address in long-running commands.")

	for key, name := range map[string]string{
		"backend":      "backend",
		"log_level":    "log-level",
		"log_format":   "log-format",
		"pool_size":    "pool-size",
		"metrics_addr": "metrics-addr",
	} {
		if err := settings.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}
