package worker

import (
	"context"
	"time"
)

// CollectorFunc fetches or derives one result from one input item.
type CollectorFunc[I, R any] func(ctx context.Context, item I) (R, error)

// DataCollectionPool is a thin specialization of Pool for batch-oriented
// collection: it fans a slice or stream of items out across the pool and
// gathers the successful results.
type DataCollectionPool[I, R any] struct {
	pool      *Pool[R]
	batchSize int
}

// NewDataCollectionPool creates a collection pool. batchSize bounds the
// batches produced by StreamCollect.
func NewDataCollectionPool[I, R any](cfg Config, batchSize int, opts ...Option[R]) *DataCollectionPool[I, R] {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &DataCollectionPool[I, R]{
		pool:      NewPool(cfg, opts...),
		batchSize: batchSize,
	}
}

// Start starts the underlying pool.
func (d *DataCollectionPool[I, R]) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Stop stops the underlying pool.
func (d *DataCollectionPool[I, R]) Stop(grace time.Duration) error {
	return d.pool.Stop(grace)
}

// Status returns the underlying pool status.
func (d *DataCollectionPool[I, R]) Status() Status {
	return d.pool.Status()
}

// CollectBatch submits one task per item and returns only the successfully
// resolved values, in item order. Failed items are silently dropped from the
// result; failures remain observable through pool events and metrics.
func (d *DataCollectionPool[I, R]) CollectBatch(ctx context.Context, items []I, fn CollectorFunc[I, R]) []R {
	works := make([]Work[R], len(items))
	for i, item := range items {
		item := item // per-iteration copy; module targets Go >= 1.22 semantics
		works[i] = func(ctx context.Context) (R, error) {
			return fn(ctx, item)
		}
	}

	outcomes := d.pool.SubmitBatch(ctx, works)
	results := make([]R, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			results = append(results, o.Value)
		}
	}
	return results
}

// StreamCollect consumes a lazy, possibly unbounded sequence of items,
// accumulates them into batches of the configured size, collects each batch
// through the pool, and hands the results to onBatch. A partial trailing
// batch is flushed when the sequence ends. Returns the context error if
// cancelled mid-stream.
func (d *DataCollectionPool[I, R]) StreamCollect(
	ctx context.Context,
	items <-chan I,
	fn CollectorFunc[I, R],
	onBatch func([]R),
) error {
	batch := make([]I, 0, d.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		results := d.CollectBatch(ctx, batch, fn)
		onBatch(results)
		batch = batch[:0]
	}

	for {
		select {
		case item, ok := <-items:
			if !ok {
				flush()
				return nil
			}
			batch = append(batch, item)
			if len(batch) >= d.batchSize {
				flush()
			}
		case <-ctx.Done():
			flush()
			return ctx.Err()
		}
	}
}
