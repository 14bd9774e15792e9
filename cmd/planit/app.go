package main

import (
	"context"
	"log/slog"

	"github.com/rendis/planit/internal/actions"
	"github.com/rendis/planit/internal/executor/local"
	"github.com/rendis/planit/internal/executor/slurm"
	"github.com/rendis/planit/internal/loader"
	"github.com/rendis/planit/internal/metrics"
	"github.com/rendis/planit/internal/validation"
	"github.com/rendis/planit/pkg/plan"
)

// app wires the components every command draws from.
type app struct {
	cfg      Config
	logger   *slog.Logger
	registry *actions.Registry
	loader   *loader.Loader
	policies *validation.PolicyChecker
	metrics  *metrics.Metrics
}

func newApp(cfg Config, logger *slog.Logger) (*app, error) {
	reg, err := actions.NewBuiltinRegistry(actions.ShellConfig{})
	if err != nil {
		return nil, err
	}
	ld, err := loader.New(reg, loader.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	policies, err := validation.NewPolicyChecker(cfg.Policies)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		loader:   ld,
		policies: policies,
		metrics:  metrics.New(),
	}, nil
}

// scheduler returns the configured backend and a func releasing it.
func (a *app) scheduler() (plan.Scheduler, func()) {
	if a.cfg.Backend == local.Backend {
		exec := local.New(
			local.WithPoolSize(a.cfg.PoolSize),
			local.WithMetrics(a.metrics),
			local.WithLogger(a.logger),
		)
		return exec, exec.Shutdown
	}
	exec := slurm.New(a.cfg.Slurm, slurm.WithMetrics(a.metrics), slurm.WithLogger(a.logger))
	return exec, func() {}
}

// localBackend reports whether jobs run in this process, in which case
// leaving before they finish would kill them.
func (a *app) localBackend() bool {
	return a.cfg.Backend == local.Backend
}

// beforeSubmit enforces the resource policies and records the estimate.
func (a *app) beforeSubmit(ctx context.Context, p *plan.Plan) error {
	if err := a.policies.Enforce(ctx, p); err != nil {
		return err
	}
	a.metrics.PlanEstimated(p.Name(), p.EstimatedDuration())
	return nil
}

// serveMetrics exposes /metrics in the background when an address is set.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr, a.logger); err != nil {
			a.logger.Error("metrics server failed", "addr", a.cfg.MetricsAddr, "error", err)
		}
	}()
}
