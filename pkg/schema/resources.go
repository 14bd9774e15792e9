package schema

import (
	"fmt"
	"strings"
)

// Payload keys understood by the scheduler adapters. They follow the
// submitit parameter naming so raw maps written for submitit keep working.
const (
	ParamTime       = "slurm_time"
	ParamPartition  = "slurm_partition"
	ParamJobName    = "slurm_job_name"
	ParamGPUs       = "gpus_per_node"
	ParamCPUs       = "cpus_per_task"
	ParamMemGB      = "mem_gb"
	ParamAdditional = "slurm_additional_parameters"
	ParamDependency = "dependency"
)

// Resources describes what a job asks the scheduler for. Implementations
// must return a fresh map from Params on every call.
type Resources interface {
	// TimeLimit returns the literal wall-clock budget, e.g. "02:00:00".
	TimeLimit() (string, error)
	// Params returns the scheduler payload.
	Params() map[string]any
}

// MailType is a Slurm mail notification event.
type MailType string

const (
	MailNone    MailType = "NONE"
	MailBegin   MailType = "BEGIN"
	MailEnd     MailType = "END"
	MailFail    MailType = "FAIL"
	MailRequeue MailType = "REQUEUE"
	MailAll     MailType = "ALL"
)

var validMailTypes = map[MailType]bool{
	MailNone: true, MailBegin: true, MailEnd: true,
	MailFail: true, MailRequeue: true, MailAll: true,
}

// Valid reports whether m is a known mail type.
func (m MailType) Valid() bool {
	return validMailTypes[m]
}

// SlurmArgs is a convenience wrapper for common SLURM parameters.
//
// The fields cover the usual VSC cluster setup. Anything else goes into
// AdditionalParams, or use RawParams for full control over the payload.
// Zero values mean "not set", except GPUsPerNode which is always sent.
type SlurmArgs struct {
	Time             string         `json:"time"` // HH:MM:SS, MM:SS or D-HH:MM:SS
	Partition        string         `json:"partition,omitempty"`
	GPUsPerNode      int            `json:"gpus_per_node,omitempty"`
	Nodes            int            `json:"nodes,omitempty"` // default 1
	CPUsPerTask      int            `json:"cpus_per_task,omitempty"`
	CPUsPerGPU       int            `json:"cpus_per_gpu,omitempty"`
	MemGB            int            `json:"mem_gb,omitempty"`
	Account          string         `json:"account,omitempty"`
	Cluster          string         `json:"cluster,omitempty"`
	MailType         []MailType     `json:"mail_type,omitempty"`
	MailUser         string         `json:"mail_user,omitempty"`
	AdditionalParams map[string]any `json:"additional_params,omitempty"`
}

// TimeLimit returns the configured time budget.
func (a SlurmArgs) TimeLimit() (string, error) {
	return a.Time, nil
}

// Params converts the arguments into the scheduler payload. Extension
// entries are copied last and win over derived keys.
func (a SlurmArgs) Params() map[string]any {
	params := map[string]any{
		ParamTime:      a.Time,
		ParamPartition: a.Partition,
		ParamGPUs:      a.GPUsPerNode,
	}
	if a.CPUsPerTask > 0 {
		params[ParamCPUs] = a.CPUsPerTask
	}
	if a.MemGB > 0 {
		params[ParamMemGB] = a.MemGB
	}

	additional := map[string]any{}
	if a.Nodes > 1 {
		additional["nodes"] = a.Nodes
	}
	if a.CPUsPerGPU > 0 {
		additional["cpus_per_gpu"] = a.CPUsPerGPU
	}
	if a.Account != "" {
		additional["account"] = a.Account
	}
	if a.Cluster != "" {
		// Plural on VSC.
		additional["clusters"] = a.Cluster
	}
	if len(a.MailType) > 0 {
		additional["mail_type"] = JoinMailTypes(a.MailType)
	}
	if a.MailUser != "" {
		additional["mail_user"] = a.MailUser
	}
	for k, v := range a.AdditionalParams {
		additional[k] = copyValue(v)
	}

	if len(additional) > 0 {
		params[ParamAdditional] = additional
	}
	return params
}

// Validate checks the fields that Params cannot express.
func (a SlurmArgs) Validate() error {
	if a.Time == "" {
		return NewError(ErrCodeConfig, "slurm args: time is required")
	}
	if a.GPUsPerNode < 0 || a.Nodes < 0 || a.CPUsPerTask < 0 || a.CPUsPerGPU < 0 || a.MemGB < 0 {
		return NewError(ErrCodeConfig, "slurm args: counts must not be negative")
	}
	for _, m := range a.MailType {
		if !m.Valid() {
			return NewErrorf(ErrCodeConfig, "slurm args: unknown mail type %q", m)
		}
	}
	return nil
}

// JoinMailTypes joins mail types in the given order, the format sbatch expects.
func JoinMailTypes(types []MailType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// RawParams is a scheduler payload given verbatim. It must carry a
// "slurm_time" entry so the step duration can be estimated.
type RawParams map[string]any

// TimeLimit returns the slurm_time entry as a string.
func (r RawParams) TimeLimit() (string, error) {
	v, ok := r[ParamTime]
	if !ok || v == nil {
		return "", NewErrorf(ErrCodeConfig, "raw params must include %q", ParamTime).
			WithDetails(map[string]any{"missing_key": ParamTime})
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// Params returns a deep copy of the map.
func (r RawParams) Params() map[string]any {
	out, _ := copyValue(map[string]any(r)).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// copyValue deep-copies maps and slices so payload edits never reach the
// caller's data.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

var (
	_ Resources = SlurmArgs{}
	_ Resources = RawParams{}
)
