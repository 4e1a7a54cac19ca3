package broadcast

import (
	"context"

	"github.com/shopspring/decimal"

	"tradesignal/internal/models"
)

const (
	// ChannelOrders carries every order status change.
	ChannelOrders = "orders"

	TypeSignalInvalid = "signal.invalid"
)

// InvalidSignalChannel is the per-account channel for rejected signals.
func InvalidSignalChannel(accountID string) string {
	return "signal_invalid:" + accountID
}

// Event is the wire form pushed to subscribers: {"type": ..., "data": {...}}.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type OrderEventData struct {
	OrderID    string             `json:"order_id"`
	Instrument string             `json:"instrument"`
	EntryPrice *decimal.Decimal   `json:"entry_price"`
	Status     models.OrderStatus `json:"status"`
}

type SignalInvalidData struct {
	SignalID     uint64 `json:"signal_id"`
	User         string `json:"user"`
	AccountID    string `json:"account_id"`
	ErrorMessage string `json:"error_message"`
}

// OrderEvent builds the order.<status> event for the order's current status.
func OrderEvent(order models.Order) Event {
	return Event{
		Type: "order." + string(order.Status),
		Data: OrderEventData{
			OrderID:    order.OrderID,
			Instrument: order.Instrument,
			EntryPrice: order.EntryPrice,
			Status:     order.Status,
		},
	}
}

func SignalInvalidEvent(data SignalInvalidData) Event {
	return Event{Type: TypeSignalInvalid, Data: data}
}

// Broadcaster delivers an event to whoever is listening on channel right now.
// Delivery is best effort; there is no replay.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, ev Event) error
}

// Subscriber streams encoded events for one channel until stop is called or
// ctx ends. The returned channel is closed afterwards.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (events <-chan []byte, stop func(), err error)
}

// Bus is a backend that can both publish and serve subscriptions.
type Bus interface {
	Broadcaster
	Subscriber
}
