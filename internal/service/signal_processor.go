package service

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradesignal/internal/broadcast"
	"tradesignal/internal/models"
	"tradesignal/internal/parser"
	"tradesignal/internal/repository"
	"tradesignal/internal/taskq"
)

// SignalProcessor turns a stored raw signal into an order, or records why it could not.
type SignalProcessor struct {
	Repo   repository.Repository
	Queue  taskq.Enqueuer
	Logger *zap.Logger
}

// Process is safe to run more than once for the same signal. Rejected input
// returns nil; storage and queue failures return an error so the task is retried.
func (p *SignalProcessor) Process(ctx context.Context, signalID uint64) error {
	if p == nil || p.Repo == nil || p.Queue == nil {
		return errors.New("signal processor not configured")
	}
	log := p.logger().With(zap.Uint64("signal_id", signalID))

	sig, err := p.Repo.GetRawSignalByID(ctx, signalID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("raw signal not found")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load raw signal")
	}
	if sig.Settled() {
		log.Debug("raw signal already settled", zap.String("status", string(sig.Status)))
		return nil
	}

	if err := p.markProcessing(ctx, sig); err != nil {
		switch {
		case errors.Is(err, errSettled):
			return nil
		case errors.Is(err, ErrTransitionConflict):
			return err
		}
		return p.fail(ctx, log, sig, err)
	}

	parsed, err := parser.Parse(sig.RawMessage)
	var rejection *parser.Rejection
	if errors.As(err, &rejection) {
		return p.reject(ctx, log, sig, rejection)
	}
	if err != nil {
		return p.fail(ctx, log, sig, err)
	}

	order, batch, err := p.createOrder(ctx, sig, parsed)
	if err != nil {
		return p.fail(ctx, log, sig, err)
	}
	if err := batch.Flush(ctx, p.Queue); err != nil {
		return p.fail(ctx, log, sig, err)
	}

	moved, err := p.Repo.TransitionRawSignal(ctx, sig.ID, models.SignalSuccess, map[string]any{
		"error_message": nil,
		"failure_kind":  models.FailureNone,
	})
	if err != nil {
		return p.fail(ctx, log, sig, errors.Wrap(err, "mark signal success"))
	}
	if !moved {
		log.Warn("signal left processing before success was recorded")
	}
	log.Info("order created from signal",
		zap.Uint64("order_pk", order.ID),
		zap.String("order_id", order.OrderID),
		zap.String("instrument", order.Instrument),
		zap.String("action", string(order.Action)),
	)
	return nil
}

var errSettled = errors.New("raw signal settled")

// markProcessing is the visibility write that precedes parsing. A signal already
// in processing belongs to a redelivered task and is picked up as is.
func (p *SignalProcessor) markProcessing(ctx context.Context, sig *models.RawSignal) error {
	moved, err := p.Repo.TransitionRawSignal(ctx, sig.ID, models.SignalProcessing, map[string]any{
		"attempts":     gorm.Expr("attempts + 1"),
		"failure_kind": models.FailureNone,
	})
	if err != nil {
		return errors.Wrap(err, "mark signal processing")
	}
	if moved {
		sig.Status = models.SignalProcessing
		return nil
	}
	current, err := p.Repo.GetRawSignalByID(ctx, sig.ID)
	if err != nil {
		return errors.Wrap(err, "reload raw signal")
	}
	switch {
	case current.Settled():
		return errSettled
	case current.Status == models.SignalProcessing:
		return nil
	default:
		return errors.Wrapf(ErrTransitionConflict, "signal %d is %s", sig.ID, current.Status)
	}
}

func (p *SignalProcessor) createOrder(ctx context.Context, sig *models.RawSignal, parsed parser.Signal) (*models.Order, *taskq.Batch, error) {
	batch := &taskq.Batch{}
	var order *models.Order
	err := p.Repo.InTx(ctx, func(tx *gorm.DB) error {
		batch.Reset()
		existing, err := p.Repo.GetOrderBySignalIDTx(ctx, tx, sig.ID)
		switch {
		case err == nil:
			// An earlier run committed the order but never recorded success.
			order = existing
		case errors.Is(err, repository.ErrNotFound):
			order = newOrder(sig, parsed)
			if err := p.Repo.CreateOrderTx(ctx, tx, order); err != nil {
				return errors.Wrap(err, "create order")
			}
			if err := p.Repo.InsertOrderHistoryTx(ctx, tx, &models.OrderHistory{
				OrderID: order.ID,
				Status:  models.OrderPending,
				Details: historyDetails("Order pending"),
			}); err != nil {
				return errors.Wrap(err, "insert order history")
			}
		default:
			return errors.Wrap(err, "find order for signal")
		}

		if err := batch.Add(TaskAdvanceOrder, OrderTaskPayload{OrderID: order.ID}); err != nil {
			return err
		}
		return broadcast.AddToBatch(batch, broadcast.ChannelOrders, broadcast.OrderEvent(*order))
	})
	if err != nil {
		return nil, nil, err
	}
	return order, batch, nil
}

func newOrder(sig *models.RawSignal, parsed parser.Signal) *models.Order {
	signalID := sig.ID
	order := &models.Order{
		UserID:     sig.UserID,
		SignalID:   &signalID,
		Action:     parsed.Action,
		Instrument: parsed.Instrument,
		StopLoss:   models.RoundPrice(parsed.StopLoss),
		TakeProfit: models.RoundPrice(parsed.TakeProfit),
		Status:     models.OrderPending,
	}
	if parsed.Price != nil {
		price := models.RoundPrice(*parsed.Price)
		order.EntryPrice = &price
	}
	return order
}

func (p *SignalProcessor) reject(ctx context.Context, log *zap.Logger, sig *models.RawSignal, rejection *parser.Rejection) error {
	log.Info("signal rejected", zap.String("code", string(rejection.Code)), zap.String("reason", rejection.Message))

	// Publish first: once the signal is settled a retry would never reach here again.
	if sig.Account != nil {
		ev := broadcast.SignalInvalidEvent(broadcast.SignalInvalidData{
			SignalID:     sig.ID,
			User:         username(sig),
			AccountID:    sig.Account.ExternalID(),
			ErrorMessage: rejection.Message,
		})
		if err := broadcast.Enqueue(ctx, p.Queue, broadcast.InvalidSignalChannel(sig.Account.ExternalID()), ev); err != nil {
			// Recorded as an infrastructure failure so the retry edge stays open.
			return p.fail(ctx, log, sig, errors.Wrap(err, "enqueue signal.invalid"))
		}
	} else {
		log.Warn("rejected signal has no broker account, skipping signal.invalid")
	}

	moved, err := p.Repo.TransitionRawSignal(ctx, sig.ID, models.SignalFailed, map[string]any{
		"error_message": rejection.Message,
		"failure_kind":  models.FailureRejected,
	})
	if err != nil {
		return p.fail(ctx, log, sig, errors.Wrap(err, "mark signal rejected"))
	}
	if !moved {
		log.Warn("signal left processing before rejection was recorded")
	}
	return nil
}

// fail records cause on the signal as a retriable failure and returns it.
func (p *SignalProcessor) fail(ctx context.Context, log *zap.Logger, sig *models.RawSignal, cause error) error {
	log.Error("signal processing failed", zap.Error(cause))
	if _, err := p.Repo.TransitionRawSignal(ctx, sig.ID, models.SignalFailed, map[string]any{
		"error_message": cause.Error(),
		"failure_kind":  models.FailureError,
	}); err != nil {
		log.Error("record signal failure", zap.Error(err))
	}
	return cause
}

func (p *SignalProcessor) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func username(sig *models.RawSignal) string {
	if sig.User == nil {
		return ""
	}
	return sig.User.Username
}
