package slurm

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/planit/pkg/schema"
)

// Flags renders a scheduler payload as sbatch options. Top-level keys lose
// their slurm_ prefix, additional parameters are passed through, and
// underscores become dashes: slurm_time becomes --time and
// {"mail_type": "END"} becomes --mail-type=END. mem_gb is sent as
// --mem=<n>G. Zero GPU counts and empty values are left out.
func Flags(params map[string]any) ([]string, error) {
	var flags []string
	for _, key := range sortedKeys(params) {
		val := params[key]
		switch key {
		case schema.ParamAdditional:
			add, ok := val.(map[string]any)
			if !ok {
				if val == nil {
					continue
				}
				return nil, fmt.Errorf("%s must be a map, got %T", key, val)
			}
			for _, k := range sortedKeys(add) {
				f, err := flag(k, add[k])
				if err != nil {
					return nil, err
				}
				flags = append(flags, f...)
			}
		case schema.ParamMemGB:
			s, ok, err := render(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if ok && s != "0" {
				flags = append(flags, "--mem="+s+"G")
			}
		case schema.ParamGPUs:
			s, ok, err := render(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if ok && s != "0" {
				flags = append(flags, "--gpus-per-node="+s)
			}
		default:
			f, err := flag(strings.TrimPrefix(key, "slurm_"), val)
			if err != nil {
				return nil, err
			}
			flags = append(flags, f...)
		}
	}
	return flags, nil
}

func flag(key string, val any) ([]string, error) {
	name := "--" + strings.ReplaceAll(key, "_", "-")
	if b, ok := val.(bool); ok {
		if b {
			return []string{name}, nil
		}
		return nil, nil
	}
	s, ok, err := render(val)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return []string{name + "=" + s}, nil
}

// render formats a scalar. ok is false for nil and empty strings.
func render(val any) (string, bool, error) {
	switch v := val.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, v != "", nil
	case int:
		return strconv.Itoa(v), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), true, nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case json.Number:
		return v.String(), true, nil
	case []string:
		return strings.Join(v, ","), len(v) > 0, nil
	default:
		return "", false, fmt.Errorf("unsupported value type %T", val)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shellQuote wraps s in single quotes for the job's --wrap script.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
