package taskq

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tradesignal/internal/models"
)

// DeadLetter receives tasks that will not be run again.
type DeadLetter interface {
	Bury(ctx context.Context, task Task, cause error) error
}

type FailureStore interface {
	InsertTaskFailure(ctx context.Context, item *models.TaskFailure) error
}

// StoreDeadLetter records buried tasks as task_failures rows and logs them.
type StoreDeadLetter struct {
	Store  FailureStore
	Logger *zap.Logger
}

func (d *StoreDeadLetter) Bury(ctx context.Context, task Task, cause error) error {
	if d == nil {
		return nil
	}
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	if d.Logger != nil {
		d.Logger.Error("task dead-lettered",
			zap.String("task_id", task.ID.String()),
			zap.String("task", task.Name),
			zap.Int("attempts", task.Attempt+1),
			zap.Error(cause),
		)
	}
	if d.Store == nil {
		return nil
	}
	return d.Store.InsertTaskFailure(ctx, &models.TaskFailure{
		TaskID:    task.ID.String(),
		TaskName:  task.Name,
		Payload:   datatypes.JSON(task.Payload),
		Attempts:  task.Attempt + 1,
		LastError: lastErr,
		FailedAt:  time.Now().UTC(),
	})
}
