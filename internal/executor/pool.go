// Package executor holds the bounded worker pool shared by the wait
// traversal and the local scheduler backend. Backends live in the local
// and slurm subpackages.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PanicError is the error a task reports when it panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Task is a unit of work run by the pool.
type Task func(ctx context.Context) error

// Pool is a bounded goroutine pool.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	stats  PoolStats
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit runs task on a pool goroutine. It blocks while the pool is full
// and gives up when ctx is cancelled or the pool shuts down. onDone, when
// non-nil, receives the task's result (a *PanicError if it panicked).
func (p *Pool) Submit(ctx context.Context, task Task, onDone func(error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.stats.Active, 1)
	p.mu.Unlock()

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.stats.Panics, 1)
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
			if err != nil {
				atomic.AddInt64(&p.stats.Failed, 1)
			} else {
				atomic.AddInt64(&p.stats.Completed, 1)
			}
			atomic.AddInt64(&p.stats.Active, -1)
			<-p.sem
			if onDone != nil {
				onDone(err)
			}
			p.wg.Done()
		}()

		err = task(ctx)
	}()

	return nil
}

// Wait blocks until all submitted work completes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for running tasks.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Active:    atomic.LoadInt64(&p.stats.Active),
		Completed: atomic.LoadInt64(&p.stats.Completed),
		Failed:    atomic.LoadInt64(&p.stats.Failed),
		Panics:    atomic.LoadInt64(&p.stats.Panics),
	}
}

// RunAll runs every task on a pool sized to len(tasks) and waits for all of
// them. errs[i] is the result of tasks[i]. A task that could not be started
// reports the submission error in its slot.
func RunAll(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	pool := NewPool(len(tasks))
	defer pool.Shutdown()

	for i, task := range tasks {
		i := i
		if err := pool.Submit(ctx, task, func(err error) { errs[i] = err }); err != nil {
			errs[i] = err
		}
	}
	pool.Wait()
	return errs
}
