package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"gorm.io/gorm"

	"tradesignal/internal/models"
)

// ErrNotFound is returned by the Get* lookups when the row does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is everything the pipeline reads and writes. Methods with a Tx suffix
// run on the transaction handed out by InTx.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Accounts
	CreateUser(ctx context.Context, item *models.User) error
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateBrokerAccount(ctx context.Context, item *models.BrokerAccount) error
	GetBrokerAccountByID(ctx context.Context, id uint64) (*models.BrokerAccount, error)
	GetActiveBrokerAccountByKeyHash(ctx context.Context, keyHash string) (*models.BrokerAccount, error)

	// Raw signals
	InsertRawSignal(ctx context.Context, item *models.RawSignal) error
	GetRawSignalByID(ctx context.Context, id uint64) (*models.RawSignal, error)
	TransitionRawSignal(ctx context.Context, id uint64, to models.SignalStatus, updates map[string]any) (bool, error)
	ListStaleRawSignals(ctx context.Context, status models.SignalStatus, before time.Time, maxSweeps, limit int) ([]models.RawSignal, error)
	MarkRawSignalSwept(ctx context.Context, id uint64) error

	// Orders
	CreateOrderTx(ctx context.Context, tx *gorm.DB, item *models.Order) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	GetOrderBySignalIDTx(ctx context.Context, tx *gorm.DB, signalID uint64) (*models.Order, error)
	TransitionOrderTx(ctx context.Context, tx *gorm.DB, id uint64, from, to models.OrderStatus) (bool, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
	ListStaleOrders(ctx context.Context, statuses []models.OrderStatus, before time.Time, maxSweeps, limit int) ([]models.Order, error)
	MarkOrderSwept(ctx context.Context, id uint64) error

	// Order history
	InsertOrderHistoryTx(ctx context.Context, tx *gorm.DB, item *models.OrderHistory) error
	ListOrderHistory(ctx context.Context, orderID uint64) ([]models.OrderHistory, error)

	// Dead letters
	InsertTaskFailure(ctx context.Context, item *models.TaskFailure) error
	ListTaskFailures(ctx context.Context, limit int) ([]models.TaskFailure, error)
}

type ListOrdersParams struct {
	Limit      int
	Offset     int
	UserID     *uint64
	Status     *string
	Action     *string
	Instrument *string
	OrderBy    string
	Asc        *bool
}
