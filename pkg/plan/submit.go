package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/pkg/schema"
)

// Submit queues every step in tree order. A step depends (afterok) on the
// jobs produced by whatever precedes it: the previous element of its
// chain, or the predecessors of its enclosing parallel stage.
//
// On a scheduler failure submission stops; the jobs queued so far are
// returned together with a SCHEDULER_ERROR naming the failing step.
func (p *Plan) Submit(ctx context.Context, sched Scheduler) ([]Job, error) {
	if sched == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "scheduler is required")
	}
	if err := p.checkSubmittable(); err != nil {
		return nil, err
	}

	ctx = logging.WithPlan(ctx, p.name)
	log := logging.LogWith(ctx, p.logger)
	log.Info("submitting jobs", "steps", len(p.Steps()))

	s := &submission{plan: p, sched: sched}
	if p.root != nil {
		if _, err := s.walk(ctx, p.root, nil); err != nil {
			log.Error("submission aborted", "queued", len(s.jobs), "error", err)
			return s.jobs, err
		}
	}

	log.Info("all jobs queued", "jobs", len(s.jobs))
	return s.jobs, nil
}

// checkSubmittable rejects trees that would submit a step twice.
func (p *Plan) checkSubmittable() error {
	seen := map[*Step]bool{}
	var err error
	for _, st := range p.Steps() {
		if err != nil {
			break
		}
		switch {
		case seen[st]:
			err = schema.NewError(schema.ErrCodeValidation, "step appears more than once in the plan").WithStep(st.name)
		case st.submitted():
			err = schema.NewError(schema.ErrCodeAlreadySubmitted, "step has already been submitted").WithStep(st.name)
		}
		seen[st] = true
	}
	return err
}

type submission struct {
	plan  *Plan
	sched Scheduler
	jobs  []Job
}

func (s *submission) walk(ctx context.Context, n Node, preds []Job) ([]Job, error) {
	switch node := n.(type) {
	case *Step:
		job, err := s.submitStep(ctx, node, preds)
		if err != nil {
			return nil, err
		}
		return []Job{job}, nil

	case *Chain:
		current := preds
		for _, c := range node.nodes {
			next, err := s.walk(ctx, c, current)
			if err != nil {
				return nil, err
			}
			current = next
		}
		return current, nil

	case *Parallel:
		var out []Job
		for _, c := range node.nodes {
			jobs, err := s.walk(ctx, c, preds)
			if err != nil {
				return nil, err
			}
			out = append(out, jobs...)
		}
		return out, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %T", n)
	}
}

func (s *submission) submitStep(ctx context.Context, st *Step, preds []Job) (Job, error) {
	params, err := s.payload(st, preds)
	if err != nil {
		return nil, err
	}

	job, err := s.sched.Submit(ctx, st.fn, st.Args(), st.Kwargs(), params)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeScheduler, "submission failed").WithStep(st.name).WithCause(err)
	}
	if err := st.setJob(job); err != nil {
		return nil, err
	}
	s.jobs = append(s.jobs, job)

	ctx = logging.WithJobID(logging.WithStep(ctx, st.name), job.ID())
	logging.LogWith(ctx, s.plan.logger).Info("queued")
	return job, nil
}

// payload builds the scheduler parameters for one step.
func (s *submission) payload(st *Step, preds []Job) (map[string]any, error) {
	params := st.res.Params()
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params[schema.ParamJobName]; !ok {
		params[schema.ParamJobName] = s.plan.name
	}
	if len(preds) == 0 {
		return params, nil
	}

	additional, err := additionalParams(params[schema.ParamAdditional])
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, err.Error()).WithStep(st.name)
	}
	additional[schema.ParamDependency] = Dependency(preds)
	params[schema.ParamAdditional] = additional
	return params, nil
}

func additionalParams(v any) (map[string]any, error) {
	switch m := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return m, nil
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a map, got %T", schema.ParamAdditional, v)
	}
}

// Dependency renders the afterok clause for the given jobs.
func Dependency(jobs []Job) string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID()
	}
	return "afterok:" + strings.Join(ids, ":")
}
