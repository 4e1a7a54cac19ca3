package taskq

import (
	"context"

	"github.com/go-faster/errors"
)

// Batch holds tasks produced inside a database transaction until it commits.
// It is not safe for concurrent use.
type Batch struct {
	tasks []Task
}

func (b *Batch) Add(name string, payload any) error {
	task, err := NewTask(name, payload)
	if err != nil {
		return err
	}
	b.tasks = append(b.tasks, task)
	return nil
}

func (b *Batch) Len() int {
	return len(b.tasks)
}

func (b *Batch) Tasks() []Task {
	out := make([]Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Reset drops everything collected, for use when the transaction rolls back.
func (b *Batch) Reset() {
	b.tasks = b.tasks[:0]
}

// Flush enqueues every task in order. Tasks that fail to enqueue stay in the
// batch so a caller may flush again.
func (b *Batch) Flush(ctx context.Context, q Enqueuer) error {
	if q == nil {
		return errors.New("flush batch: nil enqueuer")
	}
	var (
		failed   []Task
		firstErr error
	)
	for _, task := range b.tasks {
		if err := q.Enqueue(ctx, task); err != nil {
			failed = append(failed, task)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "enqueue %s", task.Name)
			}
		}
	}
	b.tasks = failed
	return firstErr
}
