// Package stream implements the batching and delivery layer of the pipeline.
//
// # Architecture
//
// Records enter through Stream, are classified as events or metrics, and
// accumulate in two independent FIFO buffers. Batches leave through an
// injected Sink, either when a buffer reaches the batch size or when the
// periodic flush timer fires. Both paths funnel through one mutex so a
// buffer is never drained twice for the same records.
//
// # Fault containment
//
// A shared three-state circuit breaker guards every sink call. Consecutive
// delivery failures open it; while open, flushes are skipped without touching
// the network; after a cooldown a single probe delivery decides whether it
// closes again. A failed batch is pushed back onto the head of its buffer in
// original order, so delivery is at-least-once and order-preserving within
// each buffer. Nothing in this package terminates the process: failures are
// deferred, counted, and reported through status, events, and metrics.
package stream
