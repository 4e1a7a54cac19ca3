package taskq

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrClosed is returned by queues that have been shut down.
var ErrClosed = errors.New("task queue closed")

// Enqueuer is the only part of the queue producers see.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// Queue delivers each task at least once. Dequeue blocks until a due task is
// available or ctx ends. A dequeued task must be acked once it is finished,
// whether it succeeded, was rescheduled, or was buried.
type Queue interface {
	Enqueuer
	Dequeue(ctx context.Context) (Task, error)
	Ack(ctx context.Context, task Task) error
}
