// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"sync"
)

// BatchTask is one schedulable unit of work: a batch plus its position in
// the run plan.
type BatchTask struct {
	Run       int
	Index     int
	Countries Batch
}

// SettledResult records the outcome of one batch task. Failures are
// collected, never propagated: one batch's error must not cancel or block
// its siblings.
type SettledResult struct {
	Run   int
	Index int
	Err   error
}

// DispatchOptions selects the dispatch mode.
type DispatchOptions struct {
	// Limiter, when set, throttles task starts: each task awaits a rate
	// limiter slot before processing, but tasks are still launched
	// concurrently so requests fire continuously, spaced by the limiter,
	// without waiting on prior responses. Used for small-quota tiers.
	Limiter RateLimiter

	// WarmFirstBatch runs the first task synchronously before the rest
	// are dispatched, letting provider-side prompt caching warm up on
	// the shared static prefix.
	WarmFirstBatch bool
}

// dispatchAll fires every batch task and waits for all of them to settle.
// Every task's outcome, success or failure, appears in the result slice
// in task order.
func dispatchAll(ctx context.Context, tasks []BatchTask, opts DispatchOptions, process func(ctx context.Context, task BatchTask) error) []SettledResult {
	results := make([]SettledResult, len(tasks))

	runOne := func(i int) {
		task := tasks[i]
		results[i] = SettledResult{Run: task.Run, Index: task.Index}

		if opts.Limiter != nil {
			if err := opts.Limiter.WaitForSlot(ctx); err != nil {
				results[i].Err = err
				return
			}
		}
		results[i].Err = process(ctx, task)
	}

	start := 0
	if opts.WarmFirstBatch && len(tasks) > 0 {
		runOne(0)
		start = 1
	}

	var wg sync.WaitGroup
	for i := start; i < len(tasks); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runOne(i)
		}(i)
	}
	wg.Wait()

	return results
}

// countFailures tallies failed tasks in a settled result set.
func countFailures(results []SettledResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
