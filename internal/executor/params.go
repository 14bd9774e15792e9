package executor

import (
	"fmt"
	"strings"

	"github.com/rendis/planit/pkg/schema"
)

// DependencyIDs extracts the job ids of an afterok dependency from a
// scheduler payload. A payload without a dependency yields nil.
func DependencyIDs(params map[string]any) ([]string, error) {
	add, ok := params[schema.ParamAdditional].(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := add[schema.ParamDependency]
	if !ok || raw == nil {
		return nil, nil
	}
	dep, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("dependency must be a string, got %T", raw)
	}
	if dep == "" {
		return nil, nil
	}

	rest, ok := strings.CutPrefix(dep, "afterok:")
	if !ok || rest == "" {
		return nil, fmt.Errorf("unsupported dependency %q (only afterok is supported)", dep)
	}
	ids := strings.Split(rest, ":")
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("malformed dependency %q", dep)
		}
	}
	return ids, nil
}

// JobName returns the job name carried by a payload, or fallback.
func JobName(params map[string]any, fallback string) string {
	if name, ok := params[schema.ParamJobName].(string); ok && name != "" {
		return name
	}
	return fallback
}
