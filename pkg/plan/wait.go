package plan

import (
	"context"

	"github.com/rendis/planit/internal/executor"
	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/pkg/schema"
)

// Wait blocks until every submitted job has finished, waiting on parallel
// branches concurrently. It is meant for debugging and demos with short
// jobs; production plans should be left to the scheduler.
//
// Chains are waited in order and stop at the first failure. Parallel
// stages wait for every branch and report the failure of the earliest
// branch. A step that was never submitted fails with NOT_SUBMITTED.
func (p *Plan) Wait(ctx context.Context) error {
	ctx = logging.WithPlan(ctx, p.name)
	log := logging.LogWith(ctx, p.logger)
	log.Info("waiting for plan to complete")

	if p.root != nil {
		if err := p.waitNode(ctx, p.root); err != nil {
			return err
		}
	}

	log.Info("all jobs completed")
	return nil
}

func (p *Plan) waitNode(ctx context.Context, n Node) error {
	switch node := n.(type) {
	case *Step:
		return p.waitStep(ctx, node)

	case *Chain:
		for _, c := range node.nodes {
			if err := p.waitNode(ctx, c); err != nil {
				return err
			}
		}
		return nil

	case *Parallel:
		tasks := make([]executor.Task, len(node.nodes))
		for i, c := range node.nodes {
			c := c
			tasks[i] = func(ctx context.Context) error { return p.waitNode(ctx, c) }
		}
		for _, err := range executor.RunAll(ctx, tasks) {
			if err != nil {
				return err
			}
		}
		return nil

	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %T", n)
	}
}

func (p *Plan) waitStep(ctx context.Context, st *Step) error {
	job, ok := st.Job()
	if !ok {
		return schema.NewError(schema.ErrCodeNotSubmitted, "has not been submitted yet").WithStep(st.name)
	}

	ctx = logging.WithJobID(logging.WithStep(ctx, st.name), job.ID())
	if _, err := job.Result(ctx); err != nil {
		return schema.NewErrorf(schema.ErrCodeScheduler, "job %s failed", job.ID()).
			WithStep(st.name).
			WithCause(err)
	}
	logging.LogWith(ctx, p.logger).Info("done")
	return nil
}
