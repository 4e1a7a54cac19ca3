package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PriceScale is the number of fraction digits kept on order prices.
const PriceScale = 4

// Order is created once from a parsed signal. Only Status and timestamps change afterwards.
type Order struct {
	ID       uint64  `gorm:"primaryKey;autoIncrement"`
	OrderID  string  `gorm:"type:varchar(50);not null;uniqueIndex"`
	UserID   uint64  `gorm:"not null;index"`
	SignalID *uint64 `gorm:"uniqueIndex"`

	Action     Action `gorm:"type:varchar(4);not null"`
	Instrument string `gorm:"type:varchar(20);not null;index"`

	EntryPrice *decimal.Decimal `gorm:"type:numeric(19,4)"`
	StopLoss   decimal.Decimal  `gorm:"type:numeric(19,4);not null"`
	TakeProfit decimal.Decimal  `gorm:"type:numeric(19,4);not null"`

	Status OrderStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	Sweeps int         `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderHistory is an append-only record of each status an order has been in.
type OrderHistory struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	OrderID   uint64         `gorm:"not null;index"`
	Status    OrderStatus    `gorm:"type:varchar(20);not null"`
	Details   datatypes.JSON
	CreatedAt time.Time      `gorm:"autoCreateTime"`
}

func (OrderHistory) TableName() string {
	return "order_histories"
}

// OrderIDCounter holds the last order id sequence number issued on Day (ddmmyy).
type OrderIDCounter struct {
	Day string `gorm:"type:varchar(6);primaryKey"`
	Seq int    `gorm:"not null;default:0"`
}

func (OrderIDCounter) TableName() string {
	return "order_id_counters"
}

// RoundPrice rounds half away from zero to PriceScale digits; prices are non-negative
// so this is half-up.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}
