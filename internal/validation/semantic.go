package validation

import (
	"fmt"

	"github.com/rendis/planit/pkg/schema"
	"github.com/rendis/planit/pkg/walltime"
)

// validateSemantic checks what the plan schema cannot express: node and
// resource exclusivity, profile references, time budgets, registered
// actions and duplicate step names.
func validateSemantic(def *schema.PlanDefinition, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for name, profile := range def.Resources {
		path := fmt.Sprintf("resources.%s", name)
		validateSlurm(profile, path, result)
	}

	names := make(map[string]string)
	validateNode(&def.Root, "root", def, lookup, names, result)
	return result
}

func validateNode(n *schema.NodeDefinition, path string, def *schema.PlanDefinition, lookup ActionLookup, names map[string]string, result *schema.ValidationResult) {
	set := 0
	if n.Step != nil {
		set++
	}
	if n.Chain != nil || n.IsChain {
		set++
	}
	if n.Parallel != nil || n.IsParallel {
		set++
	}
	if set != 1 {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("node must hold exactly one of step, chain or parallel (found %d)", set))
		return
	}

	switch n.Kind() {
	case "step":
		validateStep(n.Step, path+".step", def, lookup, names, result)
	case "chain":
		if len(n.Chain) == 0 {
			result.AddWarning(path+".chain", schema.ErrCodeValidation, "empty chain has no effect")
		}
		for i := range n.Chain {
			validateNode(&n.Chain[i], fmt.Sprintf("%s.chain[%d]", path, i), def, lookup, names, result)
		}
	case "parallel":
		if len(n.Parallel) == 0 {
			result.AddWarning(path+".parallel", schema.ErrCodeValidation, "empty parallel has no effect")
		}
		for i := range n.Parallel {
			validateNode(&n.Parallel[i], fmt.Sprintf("%s.parallel[%d]", path, i), def, lookup, names, result)
		}
	}
}

func validateStep(s *schema.StepDefinition, path string, def *schema.PlanDefinition, lookup ActionLookup, names map[string]string, result *schema.ValidationResult) {
	if s.Name == "" {
		result.AddError(path+".name", schema.ErrCodeValidation, "step name is required")
	} else if prev, dup := names[s.Name]; dup {
		result.AddWarning(path+".name", schema.ErrCodeConflict,
			fmt.Sprintf("step name %q is also used at %s", s.Name, prev))
	} else {
		names[s.Name] = path
	}

	if s.Action == "" {
		result.AddError(path+".action", schema.ErrCodeValidation, "action is required")
	} else if lookup != nil && !lookup.Has(s.Action) {
		result.AddError(path+".action", schema.ErrCodeNotFound,
			fmt.Sprintf("action %q not registered", s.Action))
	}

	set := 0
	if s.Resources != "" {
		set++
	}
	if s.Slurm != nil {
		set++
	}
	if s.Raw != nil {
		set++
	}
	if set != 1 {
		result.AddError(path, schema.ErrCodeConfig,
			fmt.Sprintf("step must set exactly one of resources, slurm or raw (found %d)", set))
		return
	}

	switch {
	case s.Resources != "":
		if _, ok := def.Resources[s.Resources]; !ok {
			result.AddError(path+".resources", schema.ErrCodeNotFound,
				fmt.Sprintf("resource profile %q is not defined", s.Resources))
		}
	case s.Slurm != nil:
		validateSlurm(*s.Slurm, path+".slurm", result)
	case s.Raw != nil:
		tl, err := s.Raw.TimeLimit()
		if err != nil {
			result.AddError(path+".raw", schema.ErrCodeConfig, messageOf(err))
			return
		}
		validateTime(tl, path+".raw."+schema.ParamTime, result)
	}
}

func validateSlurm(a schema.SlurmArgs, path string, result *schema.ValidationResult) {
	if err := a.Validate(); err != nil {
		result.AddError(path, schema.ErrCodeConfig, messageOf(err))
		return
	}
	validateTime(a.Time, path+".time", result)
}

func validateTime(tl, path string, result *schema.ValidationResult) {
	if _, err := walltime.Parse(tl); err != nil {
		result.AddError(path, schema.ErrCodeParse, messageOf(err))
	}
}

func messageOf(err error) string {
	if pe, ok := err.(*schema.PlanitError); ok {
		return pe.Message
	}
	return err.Error()
}
