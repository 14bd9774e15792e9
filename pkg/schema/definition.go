package schema

import "encoding/json"

// PlanDefinition is the file-backed form of a plan (JSON, YAML or HCL).
// The loader turns it into an executable plan.Plan.
type PlanDefinition struct {
	Name      string               `json:"name"`
	Vars      map[string]any       `json:"vars,omitempty"`
	Resources map[string]SlurmArgs `json:"resources,omitempty"` // named profiles
	Root      NodeDefinition       `json:"root"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
}

// NodeDefinition holds exactly one of Step, Chain or Parallel.
type NodeDefinition struct {
	Step     *StepDefinition  `json:"step,omitempty"`
	Chain    []NodeDefinition `json:"chain,omitempty"`
	Parallel []NodeDefinition `json:"parallel,omitempty"`

	// IsChain and IsParallel mark empty composites, which cannot be told
	// apart from an absent list once decoded.
	IsChain    bool `json:"-"`
	IsParallel bool `json:"-"`
}

// Kind returns "step", "chain", "parallel" or "" when nothing is set.
func (n *NodeDefinition) Kind() string {
	switch {
	case n.Step != nil:
		return "step"
	case n.Chain != nil || n.IsChain:
		return "chain"
	case n.Parallel != nil || n.IsParallel:
		return "parallel"
	default:
		return ""
	}
}

// StepDefinition describes one job. Resources names a profile from
// PlanDefinition.Resources; Slurm and Raw describe resources inline.
// Exactly one of the three must be set.
type StepDefinition struct {
	Name      string         `json:"name"`
	Action    string         `json:"action"`
	Resources string         `json:"resources,omitempty"`
	Slurm     *SlurmArgs     `json:"slurm,omitempty"`
	Raw       RawParams      `json:"raw,omitempty"`
	Args      []any          `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
}

// MarshalJSON writes every composite that is set, including empty ones.
func (n NodeDefinition) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 1)
	if n.Step != nil {
		out["step"] = n.Step
	}
	if n.Chain != nil || n.IsChain {
		out["chain"] = nonNilNodes(n.Chain)
	}
	if n.Parallel != nil || n.IsParallel {
		out["parallel"] = nonNilNodes(n.Parallel)
	}
	return json.Marshal(out)
}

// UnmarshalJSON records which composite keys were present so that
// "chain: []" survives decoding.
func (n *NodeDefinition) UnmarshalJSON(b []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	var fields struct {
		Step     *StepDefinition  `json:"step"`
		Chain    []NodeDefinition `json:"chain"`
		Parallel []NodeDefinition `json:"parallel"`
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*n = NodeDefinition{Step: fields.Step, Chain: fields.Chain, Parallel: fields.Parallel}
	_, n.IsChain = keys["chain"]
	_, n.IsParallel = keys["parallel"]
	return nil
}

func nonNilNodes(nodes []NodeDefinition) []NodeDefinition {
	if nodes == nil {
		return []NodeDefinition{}
	}
	return nodes
}
