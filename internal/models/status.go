package models

// SignalStatus is the processing state of a RawSignal.
type SignalStatus string

const (
	SignalPending    SignalStatus = "pending"
	SignalProcessing SignalStatus = "processing"
	SignalSuccess    SignalStatus = "success"
	SignalFailed     SignalStatus = "failed"
)

// failed -> processing is the retry edge; it is only taken for signals whose
// failure was an infrastructure error (see RawSignal.Retryable).
var signalTransitions = map[SignalStatus][]SignalStatus{
	SignalPending:    {SignalProcessing},
	SignalProcessing: {SignalSuccess, SignalFailed},
	SignalFailed:     {SignalProcessing},
	SignalSuccess:    nil,
}

func (s SignalStatus) Valid() bool {
	_, ok := signalTransitions[s]
	return ok
}

func (s SignalStatus) CanTransitionTo(next SignalStatus) bool {
	for _, to := range signalTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// SignalStatusesInto lists every status with a legal edge into next.
func SignalStatusesInto(next SignalStatus) []SignalStatus {
	out := make([]SignalStatus, 0, 2)
	for _, from := range []SignalStatus{SignalPending, SignalProcessing, SignalSuccess, SignalFailed} {
		if from.CanTransitionTo(next) {
			out = append(out, from)
		}
	}
	return out
}

// FailureKind separates terminal rejections from retriable errors on a failed signal.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureRejected FailureKind = "rejected"
	FailureError    FailureKind = "error"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderExecuted  OrderStatus = "executed"
	OrderClosed    OrderStatus = "closed"
	OrderRejected  OrderStatus = "rejected"
	OrderCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderExecuted, OrderRejected, OrderCancelled},
	OrderExecuted:  {OrderClosed, OrderCancelled},
	OrderClosed:    nil,
	OrderRejected:  nil,
	OrderCancelled: nil,
}

// position along the simulated happy path; terminal side exits have none.
var orderRank = map[OrderStatus]int{
	OrderPending:  0,
	OrderExecuted: 1,
	OrderClosed:   2,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, to := range orderTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// Reached reports whether s is target or already past it on pending -> executed -> closed.
func (s OrderStatus) Reached(target OrderStatus) bool {
	cur, ok := orderRank[s]
	if !ok {
		return false
	}
	want, ok := orderRank[target]
	if !ok {
		return false
	}
	return cur >= want
}

// Action is the trade direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Next is the following status on the simulated path, or false once the path is done.
func (s OrderStatus) Next() (OrderStatus, bool) {
	switch s {
	case OrderPending:
		return OrderExecuted, true
	case OrderExecuted:
		return OrderClosed, true
	default:
		return "", false
	}
}
