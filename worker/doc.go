// Package worker provides a generic, bounded worker pool for concurrent task
// processing, plus two thin specializations used by the telemetry pipeline.
//
// # Pool
//
// A Pool runs a fixed number of worker goroutines pulling from a shared
// bounded FIFO queue. Submit returns a Handle that resolves exactly once:
// with the task's value on success, or with the terminal error once retries
// are exhausted. Callers never see intermediate retry failures.
//
//	pool := worker.NewPool[string](worker.Config{
//	    Workers:       5,
//	    QueueSize:     100,
//	    TaskTimeout:   2 * time.Second,
//	    RetryAttempts: 3,
//	    RetryDelay:    100 * time.Millisecond,
//	})
//	_ = pool.Start(ctx)
//	h, err := pool.Submit(func(ctx context.Context) (string, error) {
//	    return fetch(ctx, target)
//	})
//
// Each attempt runs under a timeout race: work that exceeds TaskTimeout is
// treated as failed with ErrTaskTimeout. Failed attempts are re-enqueued
// with a linear backoff (RetryDelay times the retry number) onto a priority
// lane drained before new submissions, so partially-completed work is never
// starved by fresh load. Dispatch blocks on the queue channels: workers wake
// on enqueue rather than polling on an interval.
//
// Backpressure is non-blocking: once the queue holds QueueSize tasks,
// Submit fails fast with ErrQueueFull rather than blocking the caller.
//
// Stop is graceful up to a grace deadline, then forced: outstanding tasks
// are resolved with ErrPoolShuttingDown and their work bodies abandoned.
//
// # Specializations
//
// DataCollectionPool fans batches (or an unbounded stream) of input items
// across the pool and gathers successful results, dropping per-item
// failures from the return value. SimulationPool routes entities to named
// generator functions; an unregistered generator type fails the whole call
// because it is a configuration error, not a data error.
package worker
