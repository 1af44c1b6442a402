package worker

import "errors"

// Sentinel errors for worker pool operations
var (
	// ErrPoolNotStarted indicates the pool hasn't been started yet
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolShuttingDown indicates a submission was rejected because
	// shutdown is in progress
	ErrPoolShuttingDown = errors.New("worker pool shutting down")

	// ErrQueueFull indicates the task queue is at capacity
	ErrQueueFull = errors.New("task queue full")

	// ErrTaskTimeout indicates a task exceeded the configured task timeout
	ErrTaskTimeout = errors.New("task exceeded execution timeout")

	// ErrNilWork indicates a nil work function was submitted
	ErrNilWork = errors.New("work function cannot be nil")

	// ErrUnknownGenerator indicates no generator is registered for the
	// requested type key
	ErrUnknownGenerator = errors.New("no generator registered for type")
)
