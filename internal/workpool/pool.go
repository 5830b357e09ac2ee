// Package workpool runs a fixed list of independent tasks with a hard cap on
// how many are in flight at once.
//
// A pool of min(limit, len(tasks)) workers claims task indexes from a shared
// cursor. Each outcome is stored at the claimed index, so results line up with
// the input order and a failing task never cancels its siblings.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrPanic wraps a panic recovered from a task.
var ErrPanic = errors.New("workpool: task panicked")

// Task is a unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Result holds the outcome of the task at the same index.
type Result[T any] struct {
	Value T
	Err   error
}

// Options tune a run.
type Options struct {
	// Limit caps simultaneously running tasks. Values below 1 are treated as 1.
	Limit int
	// TaskTimeout bounds each task when positive.
	TaskTimeout time.Duration
}

// Run executes tasks and blocks until every task has finished.
func Run[T any](ctx context.Context, opts Options, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	workers := opts.Limit
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var cursor atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(tasks) {
					return nil
				}
				results[i] = runOne(ctx, opts.TaskTimeout, tasks[i])
			}
		})
	}
	_ = g.Wait()
	return results
}

// Errors collects the failures of a run.
func Errors[T any](results []Result[T]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

func runOne[T any](ctx context.Context, timeout time.Duration, task Task[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return Result[T]{Err: err}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	value, err := task(ctx)
	return Result[T]{Value: value, Err: err}
}
