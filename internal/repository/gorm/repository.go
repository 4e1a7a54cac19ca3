package gormrepository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"gorm.io/gorm"

	"tradesignal/internal/models"
	"tradesignal/internal/repository"
)

// OrderIDPrefix starts every human-readable order id.
const OrderIDPrefix = "INV"

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- accounts ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, item *models.User) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, repository.ErrNotFound
	}
	var item models.User
	return first(s.db.WithContext(ctx).Where("id = ?", id), &item)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if s == nil || s.db == nil || username == "" {
		return nil, repository.ErrNotFound
	}
	var item models.User
	return first(s.db.WithContext(ctx).Where("username = ?", username), &item)
}

func (s *Store) CreateBrokerAccount(ctx context.Context, item *models.BrokerAccount) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.ActiveStatus == "" {
		item.ActiveStatus = models.ActiveStatusActive
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetBrokerAccountByID(ctx context.Context, id uint64) (*models.BrokerAccount, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, repository.ErrNotFound
	}
	var item models.BrokerAccount
	return first(s.db.WithContext(ctx).Preload("User").Where("id = ?", id), &item)
}

func (s *Store) GetActiveBrokerAccountByKeyHash(ctx context.Context, keyHash string) (*models.BrokerAccount, error) {
	keyHash = strings.TrimSpace(keyHash)
	if s == nil || s.db == nil || keyHash == "" {
		return nil, repository.ErrNotFound
	}
	var item models.BrokerAccount
	return first(s.db.WithContext(ctx).
		Where("api_key_hash = ?", keyHash).
		Where("active_status = ?", models.ActiveStatusActive), &item)
}

// --- raw signals ------------------------------------------------------------

func (s *Store) InsertRawSignal(ctx context.Context, item *models.RawSignal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.Status == "" {
		item.Status = models.SignalPending
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetRawSignalByID(ctx context.Context, id uint64) (*models.RawSignal, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, repository.ErrNotFound
	}
	var item models.RawSignal
	return first(s.db.WithContext(ctx).Preload("User").Preload("Account").Where("id = ?", id), &item)
}

// TransitionRawSignal moves a signal into `to` only from a status with a legal edge
// into it. It reports false when the stored status made the move illegal.
func (s *Store) TransitionRawSignal(ctx context.Context, id uint64, to models.SignalStatus, updates map[string]any) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	from := models.SignalStatusesInto(to)
	if len(from) == 0 {
		return false, errors.Errorf("no transition into signal status %q", to)
	}
	next := map[string]any{}
	for k, v := range updates {
		next[k] = v
	}
	next["status"] = to
	next["updated_at"] = s.now().UTC()
	query := s.db.WithContext(ctx).Model(&models.RawSignal{}).
		Where("id = ?", id).
		Where("status IN ?", from)
	if to == models.SignalProcessing {
		// The retry edge out of failed is only open for infrastructure failures.
		query = query.Where("(status <> ? OR failure_kind = ?)", models.SignalFailed, models.FailureError)
	}
	res := query.Updates(next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListStaleRawSignals returns signals in status untouched since before that
// have been re-enqueued fewer than maxSweeps times.
func (s *Store) ListStaleRawSignals(ctx context.Context, status models.SignalStatus, before time.Time, maxSweeps, limit int) ([]models.RawSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.RawSignal
	if err := s.db.WithContext(ctx).
		Model(&models.RawSignal{}).
		Where("status = ?", status).
		Where("updated_at < ?", before).
		Where("sweeps < ?", maxSweeps).
		Order("id asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkRawSignalSwept(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.RawSignal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sweeps":     gorm.Expr("sweeps + 1"),
			"updated_at": s.now().UTC(),
		}).Error
}

// --- orders -----------------------------------------------------------------

// CreateOrderTx assigns the next daily order id and inserts the order on tx.
// A nil tx runs both in a transaction of their own.
func (s *Store) CreateOrderTx(ctx context.Context, tx *gorm.DB, item *models.Order) error {
	if item == nil {
		return nil
	}
	if tx == nil {
		if s == nil || s.db == nil {
			return nil
		}
		return s.InTx(ctx, func(tx *gorm.DB) error {
			return s.CreateOrderTx(ctx, tx, item)
		})
	}
	tx = tx.WithContext(ctx)
	if item.OrderID == "" {
		id, err := s.nextOrderID(tx)
		if err != nil {
			return errors.Wrap(err, "next order id")
		}
		item.OrderID = id
	}
	if item.Status == "" {
		item.Status = models.OrderPending
	}
	return tx.Create(item).Error
}

// nextOrderID builds INV<ddmmyy><counter> from the per-day counter row. The upsert
// holds that row's lock until tx ends, so concurrent creators queue behind it,
// including on the first order of the day.
func (s *Store) nextOrderID(tx *gorm.DB) (string, error) {
	day := s.now().UTC().Format("020106")
	if err := tx.Exec(
		"INSERT INTO order_id_counters (day, seq) VALUES (?, 1) "+
			"ON CONFLICT (day) DO UPDATE SET seq = order_id_counters.seq + 1",
		day,
	).Error; err != nil {
		return "", err
	}
	var counter models.OrderIDCounter
	if err := tx.Where("day = ?", day).Take(&counter).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s%04d", OrderIDPrefix, day, counter.Seq), nil
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, repository.ErrNotFound
	}
	var item models.Order
	return first(s.db.WithContext(ctx).Where("id = ?", id), &item)
}

func (s *Store) GetOrderBySignalIDTx(ctx context.Context, tx *gorm.DB, signalID uint64) (*models.Order, error) {
	if signalID == 0 {
		return nil, repository.ErrNotFound
	}
	var item models.Order
	return first(s.txOrDB(ctx, tx).Where("signal_id = ?", signalID), &item)
}

// TransitionOrderTx is a compare-and-set on the order status. It reports false
// when the stored status was no longer `from`.
func (s *Store) TransitionOrderTx(ctx context.Context, tx *gorm.DB, id uint64, from, to models.OrderStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, errors.Errorf("illegal order transition %s -> %s", from, to)
	}
	res := s.txOrDB(ctx, tx).Model(&models.Order{}).
		Where("id = ?", id).
		Where("status = ?", from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": s.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrderFilters(s.db.WithContext(ctx).Model(&models.Order{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.Order
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := applyOrderFilters(s.db.WithContext(ctx).Model(&models.Order{}), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListStaleOrders(ctx context.Context, statuses []models.OrderStatus, before time.Time, maxSweeps, limit int) ([]models.Order, error) {
	if s == nil || s.db == nil || len(statuses) == 0 {
		return nil, nil
	}
	var items []models.Order
	if err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status IN ?", statuses).
		Where("updated_at < ?", before).
		Where("sweeps < ?", maxSweeps).
		Order("id asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkOrderSwept(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sweeps":     gorm.Expr("sweeps + 1"),
			"updated_at": s.now().UTC(),
		}).Error
}

// --- order history ----------------------------------------------------------

func (s *Store) InsertOrderHistoryTx(ctx context.Context, tx *gorm.DB, item *models.OrderHistory) error {
	if item == nil {
		return nil
	}
	return s.txOrDB(ctx, tx).Create(item).Error
}

func (s *Store) ListOrderHistory(ctx context.Context, orderID uint64) ([]models.OrderHistory, error) {
	if s == nil || s.db == nil || orderID == 0 {
		return nil, nil
	}
	var items []models.OrderHistory
	if err := s.db.WithContext(ctx).
		Model(&models.OrderHistory{}).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- dead letters -----------------------------------------------------------

func (s *Store) InsertTaskFailure(ctx context.Context, item *models.TaskFailure) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.FailedAt.IsZero() {
		item.FailedAt = s.now().UTC()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTaskFailures(ctx context.Context, limit int) ([]models.TaskFailure, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TaskFailure
	if err := s.db.WithContext(ctx).
		Model(&models.TaskFailure{}).
		Order("failed_at desc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func (s *Store) txOrDB(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func first[T any](query *gorm.DB, item *T) (*T, error) {
	err := query.First(item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func applyOrderFilters(query *gorm.DB, params repository.ListOrdersParams) *gorm.DB {
	if params.UserID != nil && *params.UserID > 0 {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("action = ?", strings.ToUpper(strings.TrimSpace(*params.Action)))
	}
	if params.Instrument != nil && strings.TrimSpace(*params.Instrument) != "" {
		query = query.Where("instrument = ?", strings.ToUpper(strings.TrimSpace(*params.Instrument)))
	}
	return query
}

var orderColumns = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
	"status":     {},
	"instrument": {},
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if _, ok := orderColumns[column]; !ok {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
