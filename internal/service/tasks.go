package service

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"gorm.io/datatypes"

	"tradesignal/internal/broadcast"
	"tradesignal/internal/taskq"
)

const (
	TaskProcessSignal = "signals.process"
	TaskAdvanceOrder  = "orders.lifecycle"
)

// ErrTransitionConflict means another writer moved an entity to a status this
// run did not expect. It is retriable.
var ErrTransitionConflict = errors.New("status transition conflict")

type SignalTaskPayload struct {
	SignalID uint64 `json:"signal_id"`
}

type OrderTaskPayload struct {
	OrderID uint64 `json:"order_id"`
}

func EnqueueSignal(ctx context.Context, q taskq.Enqueuer, signalID uint64) error {
	task, err := taskq.NewTask(TaskProcessSignal, SignalTaskPayload{SignalID: signalID})
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, task)
}

func EnqueueOrder(ctx context.Context, q taskq.Enqueuer, orderID uint64) error {
	task, err := taskq.NewTask(TaskAdvanceOrder, OrderTaskPayload{OrderID: orderID})
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, task)
}

// RegisterTasks binds the pipeline handlers to their task names on pool.
func RegisterTasks(pool *taskq.Pool, processor *SignalProcessor, lifecycle *OrderLifecycle, b broadcast.Broadcaster) {
	pool.Handle(TaskProcessSignal, func(ctx context.Context, task taskq.Task) error {
		var payload SignalTaskPayload
		if err := task.Decode(&payload); err != nil {
			return taskq.Permanent(err)
		}
		return processor.Process(ctx, payload.SignalID)
	})
	pool.Handle(TaskAdvanceOrder, func(ctx context.Context, task taskq.Task) error {
		var payload OrderTaskPayload
		if err := task.Decode(&payload); err != nil {
			return taskq.Permanent(err)
		}
		return lifecycle.Advance(ctx, payload.OrderID)
	})
	pool.Handle(broadcast.TaskPublish, broadcast.TaskHandler(b))
}

func historyDetails(message string) datatypes.JSON {
	raw, _ := json.Marshal(map[string]string{"message": message})
	return datatypes.JSON(raw)
}
