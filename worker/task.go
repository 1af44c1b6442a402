package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Work is one unit of work submitted to a pool. The context carries the
// per-task timeout; work that respects cancellation stops promptly when the
// timeout fires, work that does not is abandoned.
type Work[R any] func(ctx context.Context) (R, error)

// Handle is the caller's view of a submitted task. It resolves exactly once,
// either with the task's result or with the error that terminated it.
type Handle[R any] struct {
	id     string
	done   chan struct{}
	result R
	err    error
}

// ID returns the task's unique identifier.
func (h *Handle[R]) ID() string {
	return h.id
}

// Done returns a channel closed when the task reaches terminal resolution.
func (h *Handle[R]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task resolves or ctx is cancelled.
func (h *Handle[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Outcome is the per-item result of a batch submission. Err is nil on
// success.
type Outcome[R any] struct {
	Value R
	Err   error
}

// task is the pool's internal unit of work. It is owned exclusively by the
// pool from submission until terminal resolution.
type task[R any] struct {
	id        string
	work      Work[R]
	handle    *Handle[R]
	retries   int
	createdAt time.Time
	finalized atomic.Bool
}

func newTask[R any](work Work[R]) *task[R] {
	id := uuid.NewString()
	return &task[R]{
		id:   id,
		work: work,
		handle: &Handle[R]{
			id:   id,
			done: make(chan struct{}),
		},
		createdAt: time.Now(),
	}
}
