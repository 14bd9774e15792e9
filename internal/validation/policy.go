package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/planit/internal/expressions"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/schema"
)

// Policy is an operator-defined CEL rule every step must satisfy. Rules
// see the step name as `step`, the scheduler payload as `params` and the
// time budget as `duration_seconds`.
type Policy struct {
	Name string `json:"name,omitempty" mapstructure:"name"`
	Rule string `json:"rule" mapstructure:"rule"`
}

func (p Policy) label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Rule
}

// PolicyChecker evaluates resource policies against a plan.
type PolicyChecker struct {
	engine   *expressions.CELEngine
	policies []Policy
}

// NewPolicyChecker compiles every rule up front so a typo fails at start-up.
func NewPolicyChecker(policies []Policy) (*PolicyChecker, error) {
	engine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if err := engine.Compile(p.Rule); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "policy %q does not compile", p.label()).WithCause(err)
		}
	}
	return &PolicyChecker{engine: engine, policies: append([]Policy(nil), policies...)}, nil
}

// Policies returns the configured rules.
func (c *PolicyChecker) Policies() []Policy {
	return append([]Policy(nil), c.policies...)
}

// Check evaluates every rule against every step and collects violations.
func (c *PolicyChecker) Check(ctx context.Context, p *plan.Plan) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(c.policies) == 0 {
		return result
	}

	for _, st := range p.Steps() {
		params := st.Resources().Params()
		if _, ok := params[schema.ParamJobName]; !ok {
			params[schema.ParamJobName] = p.Name()
		}
		data := map[string]any{
			expressions.VarStep:            st.Name(),
			expressions.VarParams:          params,
			expressions.VarDurationSeconds: int64(st.EstimatedDuration() / time.Second),
		}

		path := "step " + st.Name()
		for _, pol := range c.policies {
			out, err := c.engine.Evaluate(ctx, pol.Rule, data)
			if err != nil {
				result.AddError(path, schema.ErrCodePolicyViolation,
					fmt.Sprintf("policy %q could not be evaluated: %s", pol.label(), messageOf(err)))
				continue
			}
			ok, isBool := out.(bool)
			if !isBool {
				result.AddError(path, schema.ErrCodePolicyViolation,
					fmt.Sprintf("policy %q returned %T, want bool", pol.label(), out))
				continue
			}
			if !ok {
				result.AddError(path, schema.ErrCodePolicyViolation,
					fmt.Sprintf("step %q violates policy %q", st.Name(), pol.label()))
			}
		}
	}
	return result
}

// Enforce returns a POLICY_VIOLATION error listing every violation, or nil.
func (c *PolicyChecker) Enforce(ctx context.Context, p *plan.Plan) error {
	return c.Check(ctx, p).ToError()
}
