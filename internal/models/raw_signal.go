package models

import (
	"strconv"
	"time"
)

// RawSignal is the unmodified webhook payload and its processing outcome.
// Rows are never deleted.
type RawSignal struct {
	ID              uint64  `gorm:"primaryKey;autoIncrement"`
	UserID          uint64  `gorm:"not null;index"`
	BrokerAccountID *uint64 `gorm:"column:account_id;index"`

	RawMessage   string       `gorm:"type:text;not null"`
	Status       SignalStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	ErrorMessage *string      `gorm:"type:text"`
	FailureKind  FailureKind  `gorm:"type:varchar(20);not null;default:''"`
	Attempts     int          `gorm:"not null;default:0"`
	Sweeps       int          `gorm:"not null;default:0"`

	User    *User          `gorm:"foreignKey:UserID;references:ID"`
	Account *BrokerAccount `gorm:"foreignKey:BrokerAccountID;references:ID"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (RawSignal) TableName() string {
	return "broker_signals"
}

// Retryable reports whether a failed signal may re-enter processing.
func (s RawSignal) Retryable() bool {
	return s.Status == SignalFailed && s.FailureKind == FailureError
}

// Settled reports whether no further processing should happen for this signal.
func (s RawSignal) Settled() bool {
	switch s.Status {
	case SignalSuccess:
		return true
	case SignalFailed:
		return !s.Retryable()
	default:
		return false
	}
}

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
