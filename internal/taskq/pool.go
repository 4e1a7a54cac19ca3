package taskq

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Handler runs one task. Returning nil acks it; returning an error reschedules it
// under the pool's RetryPolicy unless the error is Permanent.
type Handler func(ctx context.Context, task Task) error

// Pool runs Workers goroutines that drain Queue and dispatch by task name.
type Pool struct {
	Queue      Queue
	Retry      RetryPolicy
	DeadLetter DeadLetter
	Workers    int
	Logger     *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	now      func() time.Time
}

func (p *Pool) Handle(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers == nil {
		p.handlers = map[string]Handler{}
	}
	p.handlers[name] = h
}

func (p *Pool) handler(name string) Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[name]
}

// Run blocks until ctx is done and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	if p == nil || p.Queue == nil {
		return errors.New("task pool: nil queue")
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 4
	}
	if p.Logger != nil {
		p.Logger.Info("task pool started", zap.Int("workers", workers))
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()
	if p.Logger != nil {
		p.Logger.Info("task pool stopped")
	}
	return ctx.Err()
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		task, err := p.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			if p.Logger != nil {
				p.Logger.Warn("dequeue failed", zap.Int("worker", id), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.Process(ctx, task)
	}
}

// Process runs a single dequeued task to a settled outcome: acked after success,
// rescheduled, or buried.
func (p *Pool) Process(ctx context.Context, task Task) {
	h := p.handler(task.Name)
	if h == nil {
		p.bury(ctx, task, errors.Errorf("no handler registered for task %q", task.Name))
		return
	}

	err := invoke(ctx, h, task)
	if err == nil {
		p.ack(ctx, task)
		return
	}
	if ctx.Err() != nil {
		// Shutting down mid-task. Leave it unacked so a durable queue redelivers it.
		if p.Logger != nil {
			p.Logger.Info("task interrupted by shutdown", zap.String("task", task.Name), zap.String("task_id", task.ID.String()))
		}
		return
	}
	if IsPermanent(err) || !p.Retry.ShouldRetry(task.Attempt) {
		p.bury(ctx, task, err)
		return
	}

	next := task
	next.receipt = ""
	next.Attempt++
	delay := p.Retry.Backoff(task.Attempt)
	next.NotBefore = p.clock().Add(delay).UTC()
	if p.Logger != nil {
		p.Logger.Warn("task failed, retrying",
			zap.String("task", task.Name),
			zap.String("task_id", task.ID.String()),
			zap.Int("attempt", next.Attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
	if enqErr := p.Queue.Enqueue(ctx, next); enqErr != nil {
		if p.Logger != nil {
			p.Logger.Error("reschedule failed", zap.String("task_id", task.ID.String()), zap.Error(enqErr))
		}
		return
	}
	p.ack(ctx, task)
}

func (p *Pool) ack(ctx context.Context, task Task) {
	if err := p.Queue.Ack(context.WithoutCancel(ctx), task); err != nil && p.Logger != nil {
		p.Logger.Warn("ack failed", zap.String("task_id", task.ID.String()), zap.Error(err))
	}
}

func (p *Pool) bury(ctx context.Context, task Task, cause error) {
	if p.DeadLetter != nil {
		if err := p.DeadLetter.Bury(context.WithoutCancel(ctx), task, cause); err != nil {
			if p.Logger != nil {
				p.Logger.Error("dead letter failed", zap.String("task_id", task.ID.String()), zap.Error(err))
			}
			return
		}
	} else if p.Logger != nil {
		p.Logger.Error("task dropped", zap.String("task", task.Name), zap.String("task_id", task.ID.String()), zap.Error(cause))
	}
	p.ack(ctx, task)
}

func (p *Pool) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func invoke(ctx context.Context, h Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return h(ctx, task)
}
