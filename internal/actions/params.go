package actions

import (
	"fmt"
	"strconv"
	"time"
)

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// floatValue accepts the numeric shapes JSON, YAML and HCL decoding produce.
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// durationParam reads a Go duration string ("90s") or a number of seconds.
func durationParam(m map[string]any, key string, defaultVal time.Duration) (time.Duration, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal, nil
	}
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	if f, ok := floatValue(v); ok {
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("%s: invalid duration %v", key, v)
}

func stringSlice(v any) []string {
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

func stringMapParam(m map[string]any, key string) map[string]string {
	switch raw := m[key].(type) {
	case map[string]string:
		return raw
	case map[string]any:
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			out[k] = fmt.Sprint(v)
		}
		return out
	default:
		return nil
	}
}
