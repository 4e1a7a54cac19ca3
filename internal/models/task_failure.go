package models

import (
	"time"

	"gorm.io/datatypes"
)

// TaskFailure is the dead-letter record of a task that exhausted its retries.
type TaskFailure struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	TaskID    string         `gorm:"type:varchar(64);not null;index"`
	TaskName  string         `gorm:"type:varchar(100);not null;index"`
	Payload   datatypes.JSON
	Attempts  int            `gorm:"not null"`
	LastError string         `gorm:"type:text"`
	FailedAt  time.Time      `gorm:"not null;index"`
}

func (TaskFailure) TableName() string {
	return "task_failures"
}
