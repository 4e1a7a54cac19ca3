package taskq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue. Enqueue never blocks: handlers enqueue
// follow-up work from inside workers. Delayed tasks wait on timers and are lost
// on restart.
type MemoryQueue struct {
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	ready  []Task
	timers map[uuid.UUID]*time.Timer
	closed bool
}

// NewMemoryQueue sizes the initial ready list; it grows as needed.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ready:  make([]Task, 0, buffer),
		timers: map[uuid.UUID]*time.Timer{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	task.prepare()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if delay := time.Until(task.NotBefore); delay > 0 {
		id := uuid.New()
		q.timers[id] = time.AfterFunc(delay, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if _, ok := q.timers[id]; !ok {
				return
			}
			delete(q.timers, id)
			q.pushLocked(task)
		})
		return nil
	}
	q.pushLocked(task)
	return nil
}

func (q *MemoryQueue) pushLocked(task Task) {
	if q.closed {
		return
	}
	q.ready = append(q.ready, task)
	q.notify()
}

func (q *MemoryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Task{}, ErrClosed
		}
		if len(q.ready) > 0 {
			task := q.ready[0]
			q.ready[0] = Task{}
			q.ready = q.ready[1:]
			if len(q.ready) > 0 {
				// pass the wakeup on to the next waiting worker
				q.notify()
			}
			q.mu.Unlock()
			return task, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
			return Task{}, ErrClosed
		case <-ctx.Done():
			return Task{}, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(context.Context, Task) error {
	return nil
}

// Len is the number of tasks ready to run.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Delayed is the number of tasks still waiting on their NotBefore.
func (q *MemoryQueue) Delayed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	close(q.done)
}
