package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tradesignal/internal/models"
	"tradesignal/internal/repository"
	"tradesignal/internal/taskq"
)

// Sweeper re-enqueues work whose task was lost: signals still pending and
// orders still mid-lifecycle after StaleAfter. Duplicate deliveries are absorbed
// by the status guards in SignalProcessor and OrderLifecycle. A row is swept at
// most MaxSweeps times so work that keeps dead-lettering is left for an operator.
type Sweeper struct {
	Repo       repository.Repository
	Queue      taskq.Enqueuer
	Logger     *zap.Logger
	StaleAfter time.Duration
	BatchSize  int
	MaxSweeps  int

	now func() time.Time
}

func (s *Sweeper) Sweep(ctx context.Context) (signals, orders int, err error) {
	if s == nil || s.Repo == nil || s.Queue == nil {
		return 0, 0, nil
	}
	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	maxSweeps := s.MaxSweeps
	if maxSweeps <= 0 {
		maxSweeps = 3
	}
	before := s.clock().UTC().Add(-staleAfter)

	stuck, err := s.Repo.ListStaleRawSignals(ctx, models.SignalPending, before, maxSweeps, s.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, sig := range stuck {
		if err := s.Repo.MarkRawSignalSwept(ctx, sig.ID); err != nil {
			return signals, orders, err
		}
		if err := EnqueueSignal(ctx, s.Queue, sig.ID); err != nil {
			return signals, orders, err
		}
		signals++
	}

	inflight, err := s.Repo.ListStaleOrders(ctx, []models.OrderStatus{models.OrderPending, models.OrderExecuted}, before, maxSweeps, s.BatchSize)
	if err != nil {
		return signals, orders, err
	}
	for _, order := range inflight {
		if err := s.Repo.MarkOrderSwept(ctx, order.ID); err != nil {
			return signals, orders, err
		}
		if err := EnqueueOrder(ctx, s.Queue, order.ID); err != nil {
			return signals, orders, err
		}
		orders++
	}
	return signals, orders, nil
}

// Run is the cron entry point; it only logs.
func (s *Sweeper) Run(ctx context.Context) {
	signals, orders, err := s.Sweep(ctx)
	if s.Logger == nil {
		return
	}
	if err != nil {
		s.Logger.Warn("stale work sweep failed", zap.Error(err))
		return
	}
	if signals > 0 || orders > 0 {
		s.Logger.Info("stale work re-enqueued", zap.Int("signals", signals), zap.Int("orders", orders))
	}
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
