package buffer

import (
	"sync"

	"github.com/c360/telempipe/errors"
)

// queue is a slice-backed FIFO with head-insertion support. A plain slice
// deque is used instead of a ring because Unread can grow the buffer past
// its nominal capacity.
type queue[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	closed   bool
	stats    *Statistics
	metrics  *queueMetrics
	opts     *options[T]
}

func newQueue[T any](capacity int, opts *options[T]) (*queue[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *queueMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newQueue", "metrics registration")
		}
	}

	return &queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

func (q *queue[T]) Write(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}
	if len(q.items) >= q.capacity {
		q.stats.Reject()
		if q.metrics != nil {
			q.metrics.recordReject()
		}
		return errors.WrapTransient(errors.ErrBufferFull, "Buffer", "Write", "append item")
	}

	q.items = append(q.items, item)
	q.afterWriteLocked(1)
	return nil
}

func (q *queue[T]) WriteBatch(items []T) error {
	if len(items) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "WriteBatch", "buffer closed")
	}
	if len(q.items)+len(items) > q.capacity {
		q.stats.Reject()
		if q.metrics != nil {
			q.metrics.recordReject()
		}
		return errors.WrapTransient(errors.ErrBufferFull, "Buffer", "WriteBatch", "append batch")
	}

	q.items = append(q.items, items...)
	q.afterWriteLocked(len(items))
	return nil
}

func (q *queue[T]) Read() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.afterReadLocked(1)
	return item, true
}

func (q *queue[T]) ReadBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.items) == 0 {
		return nil
	}
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}

	// Copy out so callers can hold the batch across a redelivery cycle
	// without aliasing the live backing array.
	batch := make([]T, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	q.afterReadLocked(n)
	return batch
}

func (q *queue[T]) Unread(items []T) {
	if len(items) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]T, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	q.items = merged

	q.stats.Unread(len(items))
	q.stats.Observe(len(q.items))
	if q.metrics != nil {
		q.metrics.recordUnread(len(items))
		q.metrics.recordSize(len(q.items))
	}
}

func (q *queue[T]) Peek() (T, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[0], true
}

func (q *queue[T]) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (q *queue[T]) Capacity() int {
	return q.capacity
}

func (q *queue[T]) IsEmpty() bool {
	return q.Size() == 0
}

func (q *queue[T]) IsFull() bool {
	return q.Size() >= q.capacity
}

func (q *queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = q.items[:0]
	q.stats.Observe(0)
	if q.metrics != nil {
		q.metrics.recordSize(0)
	}
}

func (q *queue[T]) Stats() *Statistics {
	return q.stats
}

func (q *queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Close", "buffer already closed")
	}
	q.closed = true
	return nil
}

func (q *queue[T]) afterWriteLocked(n int) {
	q.stats.Write(n)
	q.stats.Observe(len(q.items))
	if q.metrics != nil {
		q.metrics.recordWrite(n)
		q.metrics.recordSize(len(q.items))
	}
}

func (q *queue[T]) afterReadLocked(n int) {
	q.stats.Read(n)
	q.stats.Observe(len(q.items))
	if q.metrics != nil {
		q.metrics.recordRead(n)
		q.metrics.recordSize(len(q.items))
	}
}
