package taskq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

type recordingDeadLetter struct {
	mu     sync.Mutex
	buried []Task
	causes []error
	ch     chan struct{}
}

func newRecordingDeadLetter() *recordingDeadLetter {
	return &recordingDeadLetter{ch: make(chan struct{}, 16)}
}

func (d *recordingDeadLetter) Bury(_ context.Context, task Task, cause error) error {
	d.mu.Lock()
	d.buried = append(d.buried, task)
	d.causes = append(d.causes, cause)
	d.mu.Unlock()
	d.ch <- struct{}{}
	return nil
}

func startPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()
	dl := newRecordingDeadLetter()
	p := &Pool{Queue: q, Retry: fastPolicy(), DeadLetter: dl, Workers: 2, Logger: zap.NewNop()}

	var calls int32
	succeeded := make(chan struct{}, 1)
	p.Handle("flaky", func(ctx context.Context, task Task) error {
		n := atomic.AddInt32(&calls, 1)
		if int(n) != task.Attempt+1 {
			t.Errorf("attempt %d seen on call %d", task.Attempt, n)
		}
		if n < 3 {
			return errors.New("transient")
		}
		succeeded <- struct{}{}
		return nil
	})
	startPool(t, p)

	task, _ := NewTask("flaky", nil)
	if err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, succeeded, "third attempt")
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if len(dl.buried) != 0 {
		t.Fatalf("nothing should be dead-lettered")
	}
}

func TestPool_DeadLettersAfterMaxRetries(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()
	dl := newRecordingDeadLetter()
	p := &Pool{Queue: q, Retry: fastPolicy(), DeadLetter: dl, Workers: 1, Logger: zap.NewNop()}

	var calls int32
	p.Handle("broken", func(context.Context, Task) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("db down")
	})
	startPool(t, p)

	task, _ := NewTask("broken", nil)
	_ = q.Enqueue(context.Background(), task)
	waitFor(t, dl.ch, "dead letter")

	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 1 run + 3 retries, got %d calls", got)
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.buried[0].ID != task.ID || dl.buried[0].Attempt != 3 {
		t.Fatalf("unexpected buried task: %+v", dl.buried[0])
	}
}

func TestPool_PermanentErrorSkipsRetry(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()
	dl := newRecordingDeadLetter()
	p := &Pool{Queue: q, Retry: fastPolicy(), DeadLetter: dl, Workers: 1, Logger: zap.NewNop()}

	var calls int32
	p.Handle("bad", func(context.Context, Task) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("undecodable"))
	})
	startPool(t, p)

	task, _ := NewTask("bad", nil)
	_ = q.Enqueue(context.Background(), task)
	waitFor(t, dl.ch, "dead letter")
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("permanent error should run once, got %d", got)
	}
}

func TestPool_UnknownTaskIsBuried(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()
	dl := newRecordingDeadLetter()
	p := &Pool{Queue: q, Retry: fastPolicy(), DeadLetter: dl, Workers: 1, Logger: zap.NewNop()}
	startPool(t, p)

	task, _ := NewTask("nobody.handles.this", nil)
	_ = q.Enqueue(context.Background(), task)
	waitFor(t, dl.ch, "dead letter")
}

func TestPool_RecoversPanics(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()
	dl := newRecordingDeadLetter()
	p := &Pool{Queue: q, Retry: RetryPolicy{MaxRetries: 0}, DeadLetter: dl, Logger: zap.NewNop()}
	p.Handle("boom", func(context.Context, Task) error { panic("nil map") })

	task, _ := NewTask("boom", nil)
	p.Process(context.Background(), task)
	if len(dl.causes) != 1 || dl.causes[0] == nil {
		t.Fatalf("panic should surface as a buried error")
	}
}

func TestPool_FanOutBeyondInitialBuffer(t *testing.T) {
	q := NewMemoryQueue(2)
	defer q.Close()
	p := &Pool{Queue: q, Retry: fastPolicy(), DeadLetter: newRecordingDeadLetter(), Workers: 1, Logger: zap.NewNop()}

	leaves := make(chan struct{}, 8)
	p.Handle("root", func(ctx context.Context, task Task) error {
		for i := 0; i < 2; i++ {
			child, err := NewTask("child", nil)
			if err != nil {
				return err
			}
			if err := q.Enqueue(ctx, child); err != nil {
				return err
			}
		}
		return nil
	})
	p.Handle("child", func(ctx context.Context, task Task) error {
		for i := 0; i < 2; i++ {
			leaf, err := NewTask("leaf", nil)
			if err != nil {
				return err
			}
			if err := q.Enqueue(ctx, leaf); err != nil {
				return err
			}
		}
		return nil
	})
	p.Handle("leaf", func(context.Context, Task) error {
		leaves <- struct{}{}
		return nil
	})
	startPool(t, p)

	root, _ := NewTask("root", nil)
	if err := q.Enqueue(context.Background(), root); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for i := 0; i < 4; i++ {
		waitFor(t, leaves, "leaf task")
	}
}
