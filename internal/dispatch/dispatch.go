// Package dispatch runs build tasks on a fixed pool of workers.
//
// All tasks are queued before any worker starts. Each worker pulls tasks
// until it receives a stop message; the dispatcher drains exactly one
// result per task, then sends one stop message per worker and waits for
// all of them to exit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/vk/simgrid/internal/ctxlog"
)

var (
	// ErrWorkerCrashed is reported when a worker panics. It fails the
	// whole run.
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrAborted is reported for tasks that were not run because a
	// worker crashed.
	ErrAborted = errors.New("task not run after a worker crash")
)

// State is the lifecycle state of a task.
type State int32

const (
	Queued State = iota
	Running
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "failed"
	}
}

// WorkerFunc executes one task.
type WorkerFunc[T, R any] func(ctx context.Context, task T) (R, error)

// Result reports the outcome of one task.
type Result[T, R any] struct {
	Task T
	// Index is the task's position in the submitted slice.
	Index int
	// Worker is the id of the worker that ran the task, or -1 when tasks
	// ran in the caller.
	Worker int
	Value  R
	State  State
	Err    error
}

type envelope[T any] struct {
	index int
	task  T
	stop  bool
}

// Pool runs tasks on Workers parallel workers.
type Pool[T, R any] struct {
	Workers int
}

// Run executes every task and calls onResult once per task, from the
// calling goroutine, in completion order. newWorker is called once per
// worker before any task runs, so every worker gets its own state.
//
// A failed task does not stop the others; all task errors are joined and
// returned after every result has been drained.
func (p *Pool[T, R]) Run(
	ctx context.Context,
	tasks []T,
	newWorker func(ctx context.Context, id int) (WorkerFunc[T, R], error),
	onResult func(Result[T, R]),
) error {
	logger := ctxlog.FromContext(ctx)
	if len(tasks) == 0 {
		return nil
	}

	n := p.Workers
	if n < 1 {
		n = 1
	}
	if n > len(tasks) {
		n = len(tasks)
	}

	fns := make([]WorkerFunc[T, R], n)
	for id := range fns {
		fn, err := newWorker(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to set up worker %d: %w", id, err)
		}
		fns[id] = fn
	}

	queue := make(chan envelope[T], len(tasks)+n)
	results := make(chan Result[T, R], len(tasks))
	for i, t := range tasks {
		queue <- envelope[T]{index: i, task: t}
	}

	var (
		wg      sync.WaitGroup
		aborted atomic.Bool
	)
	for id, fn := range fns {
		wg.Add(1)
		go func(id int, fn WorkerFunc[T, R]) {
			defer wg.Done()
			wlog := logger.With("worker", id)
			wctx := ctxlog.WithLogger(ctx, wlog)
			wlog.Debug("Worker started.")

			for env := range queue {
				if env.stop {
					wlog.Debug("Worker finished.")
					return
				}
				if aborted.Load() {
					results <- Result[T, R]{Task: env.task, Index: env.index, Worker: id, State: Failed, Err: ErrAborted}
					continue
				}
				res := execute(wctx, fn, env.index, env.task, id)
				results <- res
				if errors.Is(res.Err, ErrWorkerCrashed) {
					aborted.Store(true)
					wlog.Error("Worker crashed, no further tasks will run.", "error", res.Err)
					return
				}
			}
		}(id, fn)
	}

	var (
		errs  []error
		crash error
		live  = n
	)
	for received := 0; received < len(tasks); received++ {
		if live == 0 {
			// Every worker has died; whatever is still queued never runs.
			for ; received < len(tasks); received++ {
				errs = append(errs, ErrAborted)
			}
			break
		}
		res := <-results
		if errors.Is(res.Err, ErrWorkerCrashed) {
			live--
			if crash == nil {
				crash = res.Err
			}
		} else if res.Err != nil && !errors.Is(res.Err, ErrAborted) {
			errs = append(errs, res.Err)
		}
		onResult(res)
	}

	for i := 0; i < n; i++ {
		queue <- envelope[T]{stop: true}
	}
	wg.Wait()
	close(queue)

	if crash != nil {
		return errors.Join(append([]error{crash}, errs...)...)
	}
	return errors.Join(errs...)
}

// Sequential runs tasks one at a time in the caller, in order, and stops
// at the first failure.
func Sequential[T, R any](ctx context.Context, tasks []T, fn WorkerFunc[T, R], onResult func(Result[T, R])) error {
	for i, t := range tasks {
		res := execute(ctx, fn, i, t, -1)
		onResult(res)
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

func execute[T, R any](ctx context.Context, fn WorkerFunc[T, R], index int, task T, worker int) (res Result[T, R]) {
	res = Result[T, R]{Task: task, Index: index, Worker: worker, State: Running}
	defer func() {
		if p := recover(); p != nil {
			ctxlog.FromContext(ctx).Debug("Recovered worker panic.", "stack", string(debug.Stack()))
			res.State = Failed
			res.Err = fmt.Errorf("%w: task %d: %v", ErrWorkerCrashed, index, p)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.State, res.Err = Failed, err
		return res
	}
	v, err := fn(ctx, task)
	if err != nil {
		res.State, res.Err = Failed, err
		return res
	}
	res.Value, res.State = v, Done
	return res
}
