// Package buffer provides a generic, thread-safe FIFO buffer with batch
// draining and order-preserving redelivery.
package buffer

// Buffer is a bounded FIFO buffer parameterized by item type T.
//
// The distinguishing operation is Unread: a batch drained with ReadBatch can
// be pushed back onto the head of the buffer in its original order, which is
// how the streaming layer guarantees at-least-once, order-preserving
// redelivery after a failed flush.
type Buffer[T any] interface {
	// Write appends an item to the tail of the buffer. Returns an error if
	// the buffer is closed or at capacity.
	Write(item T) error

	// WriteBatch appends items in order. It is all-or-nothing: if the batch
	// does not fit, nothing is written and an error is returned.
	WriteBatch(items []T) error

	// Read removes and returns the head item. The second return is false if
	// the buffer is empty.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items from the head, in FIFO
	// order. The returned slice may be shorter than max.
	ReadBatch(max int) []T

	// Unread pushes items back onto the head of the buffer, preserving their
	// order: after Unread(batch), the next ReadBatch returns batch first.
	// Unread always succeeds, even past capacity, so a failed delivery can
	// never lose records.
	Unread(items []T)

	// Peek returns the head item without removing it.
	Peek() (T, bool)

	// Size returns the current number of buffered items.
	Size() int

	// Capacity returns the configured maximum. Unread may exceed it.
	Capacity() int

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// IsFull returns true if Size() >= Capacity().
	IsFull() bool

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics (always collected).
	Stats() *Statistics

	// Close shuts down the buffer. Subsequent writes fail; reads drain.
	Close() error
}

// NewQueue creates a new FIFO buffer with the given capacity. Statistics are
// always collected; Prometheus metrics are optional via WithMetrics.
func NewQueue[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newQueue(capacity, opts)
}
