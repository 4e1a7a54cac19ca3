package gormrepository

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"tradesignal/internal/config"
	"tradesignal/internal/db"
	"tradesignal/internal/models"
	"tradesignal/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.OpenDialector(sqlite.Open(filepath.Join(t.TempDir(), "repo.db")), config.DBConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn.Gorm)
}

func seedAccount(t *testing.T, s *Store) (*models.User, *models.BrokerAccount) {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Username: "alice"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	accID := "ACC-1"
	account := &models.BrokerAccount{UserID: user.ID, AccountName: "main", AccountID: &accID, APIKeyHash: "hash-1"}
	if err := s.CreateBrokerAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return user, account
}

func TestStore_ActiveAccountLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, _ := seedAccount(t, s)

	if u, err := s.GetUserByUsername(ctx, "alice"); err != nil || u.ID != user.ID {
		t.Fatalf("user by username: %+v %v", u, err)
	}
	if _, err := s.GetUserByUsername(ctx, "bob"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}

	got, err := s.GetActiveBrokerAccountByKeyHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.UserID != user.ID || got.ExternalID() != "ACC-1" {
		t.Fatalf("unexpected account: %+v", got)
	}

	inactive := &models.BrokerAccount{UserID: user.ID, APIKeyHash: "hash-2", ActiveStatus: models.ActiveStatusInactive}
	if err := s.CreateBrokerAccount(ctx, inactive); err != nil {
		t.Fatalf("create inactive: %v", err)
	}
	if _, err := s.GetActiveBrokerAccountByKeyHash(ctx, "hash-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for inactive account, got %v", err)
	}
	if _, err := s.GetActiveBrokerAccountByKeyHash(ctx, ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for empty hash, got %v", err)
	}
}

func TestStore_TransitionRawSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, account := seedAccount(t, s)

	sig := &models.RawSignal{UserID: user.ID, BrokerAccountID: &account.ID, RawMessage: "BUY EURUSD"}
	if err := s.InsertRawSignal(ctx, sig); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if sig.Status != models.SignalPending {
		t.Fatalf("expected pending default, got %s", sig.Status)
	}

	ok, err := s.TransitionRawSignal(ctx, sig.ID, models.SignalSuccess, nil)
	if err != nil || ok {
		t.Fatalf("pending -> success must be refused: ok=%v err=%v", ok, err)
	}
	ok, err = s.TransitionRawSignal(ctx, sig.ID, models.SignalProcessing, map[string]any{"attempts": gorm.Expr("attempts + 1")})
	if err != nil || !ok {
		t.Fatalf("pending -> processing: ok=%v err=%v", ok, err)
	}
	msg := "SL missing"
	ok, err = s.TransitionRawSignal(ctx, sig.ID, models.SignalFailed, map[string]any{
		"error_message": msg,
		"failure_kind":  models.FailureRejected,
	})
	if err != nil || !ok {
		t.Fatalf("processing -> failed: ok=%v err=%v", ok, err)
	}
	ok, err = s.TransitionRawSignal(ctx, sig.ID, models.SignalProcessing, nil)
	if err != nil || ok {
		t.Fatalf("rejected signal must not re-enter processing: ok=%v err=%v", ok, err)
	}

	got, err := s.GetRawSignalByID(ctx, sig.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.SignalFailed || got.Attempts != 1 || got.ErrorMessage == nil || *got.ErrorMessage != msg {
		t.Fatalf("unexpected signal: %+v", got)
	}
	if !got.Settled() {
		t.Fatalf("rejected signal should be settled")
	}
}

func TestStore_TransitionRawSignal_RetryEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, _ := seedAccount(t, s)

	sig := &models.RawSignal{UserID: user.ID, RawMessage: "x"}
	if err := s.InsertRawSignal(ctx, sig); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ok, _ := s.TransitionRawSignal(ctx, sig.ID, models.SignalProcessing, nil); !ok {
		t.Fatalf("processing")
	}
	if ok, _ := s.TransitionRawSignal(ctx, sig.ID, models.SignalFailed, map[string]any{"failure_kind": models.FailureError}); !ok {
		t.Fatalf("failed")
	}
	ok, err := s.TransitionRawSignal(ctx, sig.ID, models.SignalProcessing, nil)
	if err != nil || !ok {
		t.Fatalf("errored signal should re-enter processing: ok=%v err=%v", ok, err)
	}
}

func TestStore_CreateOrderTx_SequentialIDs(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()
	user, _ := seedAccount(t, s)

	var ids []string
	for i := 0; i < 3; i++ {
		item := &models.Order{
			UserID:     user.ID,
			Action:     models.ActionBuy,
			Instrument: "EURUSD",
			StopLoss:   decimal.RequireFromString("1.1"),
			TakeProfit: decimal.RequireFromString("1.2"),
		}
		if err := s.InTx(ctx, func(tx *gorm.DB) error {
			return s.CreateOrderTx(ctx, tx, item)
		}); err != nil {
			t.Fatalf("create order: %v", err)
		}
		ids = append(ids, item.OrderID)
	}
	want := []string{"INV0703240001", "INV0703240002", "INV0703240003"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order id %d: got %s want %s", i, ids[i], want[i])
		}
	}

	s.now = func() time.Time { return fixed.Add(24 * time.Hour) }
	next := &models.Order{UserID: user.ID, Action: models.ActionSell, Instrument: "GBPUSD"}
	if err := s.CreateOrderTx(ctx, nil, next); err != nil {
		t.Fatalf("create next-day order: %v", err)
	}
	if next.OrderID != "INV0803240001" {
		t.Fatalf("counter should restart each day, got %s", next.OrderID)
	}
}

func TestStore_CreateOrderTx_ConcurrentIDs(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()
	user, _ := seedAccount(t, s)

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := &models.Order{UserID: user.ID, Action: models.ActionBuy, Instrument: "EURUSD"}
			errs[i] = s.CreateOrderTx(ctx, nil, item)
			ids[i] = item.OrderID
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
	}
	sort.Strings(ids)
	for i, id := range ids {
		if want := fmt.Sprintf("INV070324%04d", i+1); id != want {
			t.Fatalf("ids=%v, want %s at %d", ids, want, i)
		}
	}
}

func TestStore_GetRawSignalByID_PreloadsAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, account := seedAccount(t, s)

	sig := &models.RawSignal{UserID: user.ID, BrokerAccountID: &account.ID, RawMessage: "BUY EURUSD"}
	if err := s.InsertRawSignal(ctx, sig); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetRawSignalByID(ctx, sig.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Account == nil || got.Account.ID != account.ID || got.Account.ExternalID() != "ACC-1" {
		t.Fatalf("account not preloaded: %+v", got.Account)
	}
	if got.User == nil || got.User.Username != "alice" {
		t.Fatalf("user not preloaded: %+v", got.User)
	}
}

func TestStore_ListStale_SkipsSweptOut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, _ := seedAccount(t, s)

	sig := &models.RawSignal{UserID: user.ID, RawMessage: "BUY EURUSD"}
	if err := s.InsertRawSignal(ctx, sig); err != nil {
		t.Fatalf("insert signal: %v", err)
	}
	order := &models.Order{UserID: user.ID, Action: models.ActionBuy, Instrument: "EURUSD"}
	if err := s.CreateOrderTx(ctx, nil, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	before := time.Now().UTC().Add(time.Hour)
	statuses := []models.OrderStatus{models.OrderPending}
	if items, err := s.ListStaleRawSignals(ctx, models.SignalPending, before, 1, 10); err != nil || len(items) != 1 {
		t.Fatalf("stale signals: %v %v", items, err)
	}
	if items, err := s.ListStaleOrders(ctx, statuses, before, 1, 10); err != nil || len(items) != 1 {
		t.Fatalf("stale orders: %v %v", items, err)
	}

	if err := s.MarkRawSignalSwept(ctx, sig.ID); err != nil {
		t.Fatalf("mark signal: %v", err)
	}
	if err := s.MarkOrderSwept(ctx, order.ID); err != nil {
		t.Fatalf("mark order: %v", err)
	}
	if items, _ := s.ListStaleRawSignals(ctx, models.SignalPending, before, 1, 10); len(items) != 0 {
		t.Fatalf("swept-out signal listed again: %+v", items)
	}
	if items, _ := s.ListStaleOrders(ctx, statuses, before, 1, 10); len(items) != 0 {
		t.Fatalf("swept-out order listed again: %+v", items)
	}
	if items, _ := s.ListStaleOrders(ctx, statuses, before, 2, 10); len(items) != 1 || items[0].Sweeps != 1 {
		t.Fatalf("order should still be listed under a higher bound: %+v", items)
	}
}

func TestStore_TransitionOrderTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, _ := seedAccount(t, s)

	item := &models.Order{UserID: user.ID, Action: models.ActionBuy, Instrument: "EURUSD"}
	if err := s.CreateOrderTx(ctx, nil, item); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.TransitionOrderTx(ctx, nil, item.ID, models.OrderPending, models.OrderClosed); err == nil {
		t.Fatalf("pending -> closed should be rejected")
	}
	ok, err := s.TransitionOrderTx(ctx, nil, item.ID, models.OrderPending, models.OrderExecuted)
	if err != nil || !ok {
		t.Fatalf("pending -> executed: ok=%v err=%v", ok, err)
	}
	ok, err = s.TransitionOrderTx(ctx, nil, item.ID, models.OrderPending, models.OrderExecuted)
	if err != nil || ok {
		t.Fatalf("stale compare-and-set should not apply: ok=%v err=%v", ok, err)
	}
	got, err := s.GetOrderByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.OrderExecuted {
		t.Fatalf("expected executed, got %s", got.Status)
	}
}

func TestStore_ListOrdersAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, _ := seedAccount(t, s)

	for _, inst := range []string{"EURUSD", "GBPUSD", "EURUSD"} {
		item := &models.Order{UserID: user.ID, Action: models.ActionBuy, Instrument: inst}
		if err := s.CreateOrderTx(ctx, nil, item); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.InsertOrderHistoryTx(ctx, nil, &models.OrderHistory{OrderID: item.ID, Status: models.OrderPending}); err != nil {
			t.Fatalf("history: %v", err)
		}
	}

	inst := "eurusd"
	params := repository.ListOrdersParams{Instrument: &inst}
	items, err := s.ListOrders(ctx, params)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	total, err := s.CountOrders(ctx, params)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(items) != 2 || total != 2 {
		t.Fatalf("expected 2 EURUSD orders, got %d (count %d)", len(items), total)
	}

	history, err := s.ListOrderHistory(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Status != models.OrderPending {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestStore_GetOrderBySignalIDTx_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetOrderBySignalIDTx(context.Background(), nil, 42); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_TaskFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.InsertTaskFailure(ctx, &models.TaskFailure{TaskID: "t-1", TaskName: "signals.process", Attempts: 4, LastError: "boom"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	items, err := s.ListTaskFailures(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].FailedAt.IsZero() {
		t.Fatalf("unexpected failures: %+v", items)
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := []struct{ in, fallback, want int }{
		{0, 50, 50},
		{-1, 50, 50},
		{20, 50, 20},
		{10000, 50, 500},
	}
	for _, tc := range cases {
		if got := normalizeLimit(tc.in, tc.fallback); got != tc.want {
			t.Fatalf("normalizeLimit(%d,%d)=%d want %d", tc.in, tc.fallback, got, tc.want)
		}
	}
}
