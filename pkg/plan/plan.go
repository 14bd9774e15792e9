// Package plan models a workflow as a tree of sequential (Chain) and
// concurrent (Parallel) stages whose leaves (Step) are batch jobs. A Plan
// estimates its best-case duration, submits every step with afterok
// dependencies derived from the tree, and can block until all jobs finish.
package plan

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/pkg/walltime"
)

// Plan is a named workflow tree.
type Plan struct {
	name   string
	root   Node
	logger *slog.Logger
}

// Option configures a Plan.
type Option func(*Plan)

// WithLogger sets the logger used for progress output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plan) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a plan. The name is also the default job name of every step.
func New(name string, root Node, opts ...Option) *Plan {
	p := &Plan{
		name:   name,
		root:   root,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the plan name.
func (p *Plan) Name() string { return p.name }

// Root returns the root node.
func (p *Plan) Root() Node { return p.root }

// EstimatedDuration is the best-case runtime of the whole plan, ignoring
// time spent in the queue.
func (p *Plan) EstimatedDuration() time.Duration {
	if p.root == nil {
		return 0
	}
	return p.root.EstimatedDuration()
}

// Steps returns every leaf in tree order.
func (p *Plan) Steps() []*Step {
	var out []*Step
	if p.root != nil {
		walkSteps(p.root, func(s *Step) { out = append(out, s) })
	}
	return out
}

// Describe renders the tree, logs it together with the duration estimate
// and returns the rendered text.
func (p *Plan) Describe(ctx context.Context) string {
	ctx = logging.WithPlan(ctx, p.name)
	text := Render(p)
	p.logger.InfoContext(ctx, "plan "+p.name+"\n"+text)
	p.logger.InfoContext(ctx, "time estimate (not taking queuing into account)",
		"estimate", walltime.Format(p.EstimatedDuration()))
	return text
}
