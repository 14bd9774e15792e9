// Package walltime parses and formats Slurm wall-clock time budgets.
//
// Accepted layouts are HH:MM:SS, MM:SS and D-HH:MM:SS. Anything else is
// rejected so that a typo in a budget fails when the step is built, not
// after the job has been queued.
package walltime

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/planit/pkg/schema"
)

const day = 24 * time.Hour

// Parse converts a time budget into a duration with second precision.
func Parse(s string) (time.Duration, error) {
	d, err := parse(s)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeParse, "could not parse time %q: %s", s, err.Error()).
			WithDetails(map[string]any{"input": s})
	}
	return d, nil
}

func parse(s string) (time.Duration, error) {
	var days int
	rest := s
	if dash := strings.IndexByte(s, '-'); dash >= 0 {
		n, err := field(s[:dash], "days", -1)
		if err != nil {
			return 0, err
		}
		days = n
		rest = s[dash+1:]
		if strings.Count(rest, ":") != 2 {
			return 0, fmt.Errorf("expected D-HH:MM:SS")
		}
	}

	parts := strings.Split(rest, ":")
	var h, m, sec int
	var err error
	switch len(parts) {
	case 3:
		if h, err = field(parts[0], "hours", 23); err != nil {
			return 0, err
		}
		if m, err = field(parts[1], "minutes", 59); err != nil {
			return 0, err
		}
		if sec, err = field(parts[2], "seconds", 59); err != nil {
			return 0, err
		}
	case 2:
		if m, err = field(parts[0], "minutes", 59); err != nil {
			return 0, err
		}
		if sec, err = field(parts[1], "seconds", 59); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unknown time format, expected HH:MM:SS, MM:SS or D-HH:MM:SS")
	}

	return time.Duration(days)*day +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second, nil
}

// field parses one numeric component. max < 0 means unbounded.
func field(s, name string, max int) (int, error) {
	if s == "" || len(s) > 9 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid %s %q", name, s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	if max >= 0 && n > max {
		return 0, fmt.Errorf("%s %d out of range 0-%d", name, n, max)
	}
	return n, nil
}

// Format renders d as HH:MM:SS, or D-HH:MM:SS once it reaches a day.
// Sub-second remainders are truncated and negative values clamp to zero.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	h, m, s := total/3600, (total%3600)/60, total%60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
