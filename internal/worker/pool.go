// Package worker provides a bounded fan-out for batch stages. Each task
// produces a result mapped back to its originating item; result order
// follows input order, not completion order.
package worker

import (
	"context"
	"sync"
)

// Task is one unit of batch work. Run must capture its own failure in R
// rather than panic; a panic would take the worker down.
type Task[R any] struct {
	ID  int64
	Run func(ctx context.Context) R
}

// Result pairs a task's output with the task that produced it.
type Result[R any] struct {
	ID    int64
	Value R
}

// Run executes tasks with at most concurrency goroutines in flight and
// returns one result per task, in input order. A concurrency of 1 or
// less degrades to a sequential loop.
func Run[R any](ctx context.Context, concurrency int, tasks []Task[R]) []Result[R] {
	results := make([]Result[R], len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if concurrency <= 1 {
		for i, t := range tasks {
			results[i] = Result[R]{ID: t.ID, Value: t.Run(ctx)}
		}
		return results
	}
	if concurrency > len(tasks) {
		concurrency = len(tasks)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task[R]) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = Result[R]{ID: t.ID, Value: t.Run(ctx)}
		}(i, t)
	}
	wg.Wait()
	return results
}
