package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecore/src/database"
	"tradecore/src/model"
)

// OrderRepository handles read/write operations for orders.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order into the database.
// The given order will be updated with the generated ID and timestamps.
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "Create",
		"symbol": order.Symbol,
		"side":   order.Side,
		"status": order.Status,
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")
		return err
	}

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*model.Order, error) {
	var order model.Order

	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")
		return nil, err
	}

	return &order, nil
}

// FindByTransactionID returns all orders of a transaction, oldest first.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID uint) ([]model.Order, error) {
	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":           "OrderRepository",
			"op":             "FindByTransactionID",
			"transaction_id": transactionID,
		}).WithError(err).Error("Failed to fetch transaction orders")
		return nil, err
	}

	return orders, nil
}

// FindTracked returns all orders that can still change state: submitted to
// the broker and not yet terminal, plus local waiting_trigger children.
func (r *OrderRepository) FindTracked(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			model.OrderStatusPending,
			model.OrderStatusOpen,
			model.OrderStatusPartiallyFilled,
			model.OrderStatusWaitingTrigger,
		}).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindTracked",
		}).WithError(err).Error("Failed to fetch tracked orders")
		return nil, err
	}

	return orders, nil
}

// FindWaitingChildren returns the waiting_trigger children of a parent order.
func (r *OrderRepository) FindWaitingChildren(ctx context.Context, parentID uint) ([]model.Order, error) {
	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("parent_order_id = ? AND status = ?", parentID, model.OrderStatusWaitingTrigger).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "OrderRepository",
			"op":        "FindWaitingChildren",
			"parent_id": parentID,
		}).WithError(err).Error("Failed to fetch waiting children")
		return nil, err
	}

	return orders, nil
}

// CreateLog appends one lifecycle log row for an order.
func (r *OrderRepository) CreateLog(ctx context.Context, entry *model.OrderLog) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "CreateLog",
			"order_id": entry.OrderID,
		}).WithError(err).Error("Failed to create order log")
		return err
	}
	return nil
}

// Merge applies the mutable fields of the given order onto the tracked row,
// fetching by primary key first. Concurrent evaluation paths go through
// this method so a loaded-then-mutated instance is never re-attached
// blindly over someone else's update.
func (r *OrderRepository) Merge(ctx context.Context, order *model.Order) error {
	if order.ID == 0 {
		return r.Create(ctx, order)
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Merge",
		"order_id": order.ID,
		"status":   order.Status,
	}).Debug("Merging order by primary key")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tracked model.Order
		if err := tx.First(&tracked, order.ID).Error; err != nil {
			return err
		}

		tracked.Status = order.Status
		tracked.LimitPrice = order.LimitPrice
		tracked.StopPrice = order.StopPrice
		tracked.OpenPrice = order.OpenPrice
		tracked.BrokerRef = order.BrokerRef
		tracked.Metadata = order.Metadata
		tracked.FilledAt = order.FilledAt
		tracked.Quantity = order.Quantity

		if err := tx.Save(&tracked).Error; err != nil {
			logger.WithFields(map[string]interface{}{
				"repo":     "OrderRepository",
				"op":       "Merge",
				"order_id": order.ID,
			}).WithError(err).Error("Failed to merge order")
			return err
		}

		*order = tracked
		return nil
	})
}
