// Package scheduler provides the bounded-parallel worker pool the
// pipeline runs three ways (wearable fetch, texture fetch, bake+upload),
// plus per-service circuit breakers and jittered backoff. Failure handling
// is best-effort: no item's failure cancels its peers.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Result is one item's outcome: either a value or an error. Errors are
// never fatal to the pool; they are collected for the caller to log and
// fold into the run's partial-failure state.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Run executes fn for each item in items with at most `concurrency`
// in flight at once, each bounded by perItemTimeout. It returns one Result
// per item, in the same order as items, once all have completed.
func Run[T, R any](ctx context.Context, items []T, concurrency int, perItemTimeout time.Duration, fn func(context.Context, T) (R, error)) []Result[R] {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]Result[R], len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()

			itemCtx := ctx
			var cancel context.CancelFunc
			if perItemTimeout > 0 {
				itemCtx, cancel = context.WithTimeout(ctx, perItemTimeout)
				defer cancel()
			}

			value, err := fn(itemCtx, item)
			results[i] = Result[R]{Index: i, Value: value, Err: err}
		}(i, item)
	}

	wg.Wait()
	return results
}
