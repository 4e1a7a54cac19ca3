package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradesignal/internal/broadcast"
	"tradesignal/internal/config"
	"tradesignal/internal/models"
	"tradesignal/internal/repository"
	"tradesignal/internal/taskq"
)

// OrderLifecycle walks an order along pending -> executed -> closed, one
// committed transaction per step.
type OrderLifecycle struct {
	Repo         repository.Repository
	Queue        taskq.Enqueuer
	Logger       *zap.Logger
	ExecuteDelay time.Duration
	CloseDelay   time.Duration
}

func NewOrderLifecycle(repo repository.Repository, q taskq.Enqueuer, cfg config.LifecycleConfig, logger *zap.Logger) *OrderLifecycle {
	executeDelay, closeDelay := cfg.Delays()
	return &OrderLifecycle{
		Repo:         repo,
		Queue:        q,
		Logger:       logger,
		ExecuteDelay: executeDelay,
		CloseDelay:   closeDelay,
	}
}

var stepMessages = map[models.OrderStatus]string{
	models.OrderExecuted: "Order executed",
	models.OrderClosed:   "Order closed",
}

// Advance starts from the stored status, so steps a previous run already
// committed are skipped without waiting.
func (l *OrderLifecycle) Advance(ctx context.Context, orderID uint64) error {
	if l == nil || l.Repo == nil || l.Queue == nil {
		return errors.New("order lifecycle not configured")
	}
	log := l.logger().With(zap.Uint64("order_pk", orderID))

	order, err := l.Repo.GetOrderByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("order not found")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load order")
	}

	for {
		target, ok := order.Status.Next()
		if !ok {
			log.Debug("order lifecycle finished", zap.String("status", string(order.Status)))
			return nil
		}
		if err := wait(ctx, l.delay(target)); err != nil {
			return err
		}
		order, err = l.step(ctx, order, target)
		if err != nil {
			return err
		}
		log.Info("order advanced", zap.String("order_id", order.OrderID), zap.String("status", string(order.Status)))
	}
}

var errNotApplied = errors.New("transition not applied")

func (l *OrderLifecycle) step(ctx context.Context, order *models.Order, target models.OrderStatus) (*models.Order, error) {
	from := order.Status
	batch := &taskq.Batch{}
	next := *order
	next.Status = target

	err := l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		batch.Reset()
		moved, err := l.Repo.TransitionOrderTx(ctx, tx, order.ID, from, target)
		if err != nil {
			return errors.Wrap(err, "update order status")
		}
		if !moved {
			return errNotApplied
		}
		if err := l.Repo.InsertOrderHistoryTx(ctx, tx, &models.OrderHistory{
			OrderID: order.ID,
			Status:  target,
			Details: historyDetails(stepMessages[target]),
		}); err != nil {
			return errors.Wrap(err, "insert order history")
		}
		return broadcast.AddToBatch(batch, broadcast.ChannelOrders, broadcast.OrderEvent(next))
	})
	if errors.Is(err, errNotApplied) {
		return l.reconcile(ctx, order.ID, target)
	}
	if err != nil {
		return nil, err
	}
	if err := batch.Flush(ctx, l.Queue); err != nil {
		return nil, errors.Wrap(err, "enqueue order event")
	}
	return &next, nil
}

// reconcile handles a compare-and-set miss by looking at what is stored now.
func (l *OrderLifecycle) reconcile(ctx context.Context, orderID uint64, target models.OrderStatus) (*models.Order, error) {
	current, err := l.Repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}
	if current.Status.Reached(target) || current.Status.Terminal() {
		return current, nil
	}
	return nil, errors.Wrapf(ErrTransitionConflict, "order %d is %s, wanted %s", orderID, current.Status, target)
}

func (l *OrderLifecycle) delay(target models.OrderStatus) time.Duration {
	if target == models.OrderClosed {
		return l.CloseDelay
	}
	return l.ExecuteDelay
}

func (l *OrderLifecycle) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
