package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/planit/internal/loader"
	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/schema"
	"github.com/rendis/planit/pkg/walltime"
)

// stepSummary is one leaf of a described or submitted plan.
type stepSummary struct {
	Name     string `json:"name"`
	Action   string `json:"action"`
	Time     string `json:"time"`
	JobID    string `json:"job_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	Estimate string `json:"estimate"`
}

// readDefinition decodes the plan definition named by the request, either
// inline through "definition" or by "path".
func (s *PlanitServer) readDefinition(ctx context.Context, req mcp.CallToolRequest) (*schema.PlanDefinition, error) {
	definition := req.GetString("definition", "")
	path := req.GetString("path", "")
	switch {
	case definition != "" && path != "":
		return nil, schema.NewError(schema.ErrCodeValidation, "definition and path are mutually exclusive")
	case path != "":
		return s.loader.ReadFile(ctx, path)
	case definition != "":
		format, err := loader.ParseFormat(req.GetString("format", string(loader.FormatJSON)))
		if err != nil {
			return nil, err
		}
		return s.loader.Decode(ctx, []byte(definition), format, "<definition>")
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "definition or path is required")
	}
}

func (s *PlanitServer) loadPlan(ctx context.Context, req mcp.CallToolRequest) (*plan.Plan, error) {
	def, err := s.readDefinition(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.loader.Build(ctx, def)
}

func summarize(p *plan.Plan) []stepSummary {
	steps := p.Steps()
	out := make([]stepSummary, 0, len(steps))
	for _, st := range steps {
		out = append(out, stepSummary{
			Name:     st.Name(),
			Action:   st.Callable().Name(),
			Time:     st.TimeLimit(),
			Estimate: walltime.Format(st.EstimatedDuration()),
		})
	}
	return out
}

// handleDescribe renders the plan tree and its duration estimate.
func (s *PlanitServer) handleDescribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.loadPlan(ctx, req)
	if err != nil {
		return toolError("describe failed", err), nil
	}
	ctx, _ = logging.NewRun(ctx)
	tree := p.Describe(ctx)
	estimate := p.EstimatedDuration()
	s.metrics.PlanEstimated(p.Name(), estimate)

	return marshalResult(map[string]any{
		"plan":              p.Name(),
		"tree":              tree,
		"estimate":          walltime.Format(estimate),
		"estimated_seconds": int64(estimate / time.Second),
		"steps":             summarize(p),
	})
}

// handleValidate reports schema, action and policy issues without submitting.
func (s *PlanitServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := &schema.ValidationResult{}

	def, err := s.readDefinition(ctx, req)
	if err != nil {
		addIssue(result, err)
		return marshalValidation(result)
	}

	result.Merge(s.loader.Validate(ctx, def))
	if result.Valid() {
		p, buildErr := s.loader.Build(ctx, def)
		if buildErr != nil {
			addIssue(result, buildErr)
		} else if s.policies != nil {
			result.Merge(s.policies.Check(ctx, p))
		}
	}
	return marshalValidation(result)
}

// handleSubmit queues the plan on the configured backend.
func (s *PlanitServer) handleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("no scheduler backend configured"), nil
	}
	p, err := s.loadPlan(ctx, req)
	if err != nil {
		return toolError("submit failed", err), nil
	}
	if s.policies != nil {
		if err := s.policies.Enforce(ctx, p); err != nil {
			return toolError("submit rejected", err), nil
		}
	}

	ctx, runID := logging.NewRun(logging.WithPlan(ctx, p.Name()))
	s.metrics.PlanEstimated(p.Name(), p.EstimatedDuration())
	if _, err := p.Submit(ctx, s.scheduler); err != nil {
		return toolError("submit failed", err), nil
	}
	s.logger.InfoContext(ctx, "plan submitted", "backend", s.backend, "steps", len(p.Steps()))

	wait := req.GetBool("wait", false)
	var waitErr error
	if wait {
		waitErr = p.Wait(ctx)
	}

	steps := summarize(p)
	for i, st := range p.Steps() {
		job, ok := st.Job()
		if !ok {
			continue
		}
		steps[i].JobID = job.ID()
		steps[i].Status = "SUBMITTED"
		if wait {
			status, jobErr := plan.Status(ctx, job)
			steps[i].Status = status
			if jobErr != nil {
				steps[i].Error = jobErr.Error()
			}
		}
	}

	out := map[string]any{
		"plan":     p.Name(),
		"run_id":   runID,
		"backend":  s.backend,
		"estimate": walltime.Format(p.EstimatedDuration()),
		"steps":    steps,
	}
	if waitErr != nil {
		out["error"] = waitErr.Error()
	}
	return marshalResult(out)
}

// handleActions lists registered actions, or describes one by name.
func (s *PlanitServer) handleActions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return marshalResult(map[string]any{"actions": s.registry.List()})
	}
	action, err := s.registry.Get(name)
	if err != nil {
		return toolError("action lookup failed", err), nil
	}
	return marshalResult(map[string]any{
		"name":   action.Name(),
		"schema": action.Schema(),
	})
}

func addIssue(result *schema.ValidationResult, err error) {
	code := schema.ErrCodeValidation
	var pe *schema.PlanitError
	if errors.As(err, &pe) {
		code = pe.Code
	}
	result.AddError("", code, err.Error())
}

func marshalValidation(result *schema.ValidationResult) (*mcp.CallToolResult, error) {
	errs := result.Errors
	if errs == nil {
		errs = []schema.ValidationIssue{}
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []schema.ValidationIssue{}
	}
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   errs,
		"warnings": warnings,
	})
}

func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
