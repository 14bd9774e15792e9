package executor

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/planit/pkg/schema"
)

// Backoff strategies for RetryPolicy.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy controls how often a scheduler command is retried.
// Attempts counts the first try; zero or one means no retries.
type RetryPolicy struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	Backoff  string        `mapstructure:"backoff"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DefaultRetryPolicy retries three times with exponential backoff, enough
// to ride out a slurmctld restart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 4,
		Delay:    2 * time.Second,
		Backoff:  BackoffExponential,
		MaxDelay: 30 * time.Second,
	}
}

// transientPatterns are messages from the scheduler commands that clear up
// on their own.
var transientPatterns = []string{
	"socket timed out",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"try again",
	"unable to contact slurm controller",
	"slurm_persist_conn",
	"slurmdbd",
	"i/o timeout",
}

// IsTransient reports whether err is worth retrying. Structured errors and
// cancellation are never transient; anything else must look like a
// controller or network hiccup.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pe *schema.PlanitError
	if errors.As(err, &pe) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ComputeBackoff returns the delay before retry number attempt (0-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		delay = policy.Delay << uint(attempt)
		if delay <= 0 {
			delay = policy.MaxDelay
		}
	case BackoffLinear:
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early with ctx's error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry calls fn until it succeeds, fails with a non-transient error or
// runs out of attempts. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 || !IsTransient(err) {
			break
		}
		if werr := WaitForBackoff(ctx, ComputeBackoff(policy, i)); werr != nil {
			return err
		}
	}
	return err
}
