package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/planit/pkg/schema"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(schema.NewError(schema.ErrCodeScheduler, "socket timed out")))
	assert.False(t, IsTransient(errors.New("sbatch: error: invalid partition specified: gpu")))

	for _, msg := range []string{
		"sbatch: error: Batch job submission failed: Socket timed out on send/recv operation",
		"sacct: error: slurm_persist_conn_open_without_init: failed to open persistent connection",
		"sbatch: error: Unable to contact slurm controller (connect failure)",
		"Resource temporarily unavailable",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
		assert.True(t, IsTransient(fmt.Errorf("run sbatch: %w", errors.New(msg))), msg)
	}
}

func TestComputeBackoff(t *testing.T) {
	exp := RetryPolicy{Delay: time.Second, Backoff: BackoffExponential, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, ComputeBackoff(exp, 0))
	assert.Equal(t, 2*time.Second, ComputeBackoff(exp, 1))
	assert.Equal(t, 4*time.Second, ComputeBackoff(exp, 2))
	assert.Equal(t, 5*time.Second, ComputeBackoff(exp, 3))

	lin := RetryPolicy{Delay: time.Second, Backoff: BackoffLinear}
	assert.Equal(t, 3*time.Second, ComputeBackoff(lin, 2))

	constant := RetryPolicy{Delay: time.Second, Backoff: BackoffConstant}
	assert.Equal(t, time.Second, ComputeBackoff(constant, 7))

	assert.Equal(t, time.Duration(0), ComputeBackoff(RetryPolicy{}, 3))
}

func TestWaitForBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, time.Hour), context.Canceled)
	assert.NoError(t, WaitForBackoff(ctx, 0))
}

func TestRetry(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("socket timed out")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(context.Context) error {
			calls++
			return errors.New("socket timed out")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(context.Context) error {
			calls++
			return errors.New("invalid account")
		})
		assert.EqualError(t, err, "invalid account")
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts still tries once", func(t *testing.T) {
		calls := 0
		_ = Retry(context.Background(), RetryPolicy{}, func(context.Context) error {
			calls++
			return errors.New("socket timed out")
		})
		assert.Equal(t, 1, calls)
	})
}
