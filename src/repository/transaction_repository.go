package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecore/src/database"
	"tradecore/src/model"
)

// TransactionRepository handles read/write operations for transactions.
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new repository instance using the main read/write database.
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TransactionRepository) WithDB(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, transaction *model.Transaction) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "TransactionRepository",
		"op":     "Create",
		"expert": transaction.ExpertID,
		"symbol": transaction.Symbol,
	}).Debug("Creating new transaction")

	err := r.db.WithContext(ctx).Create(transaction).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TransactionRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create transaction")
		return err
	}

	return nil
}

// FindByID fetches a transaction with its orders.
// Returns (nil, nil) if not found.
func (r *TransactionRepository) FindByID(ctx context.Context, id uint) (*model.Transaction, error) {
	var transaction model.Transaction

	err := r.db.WithContext(ctx).
		Preload("Orders").
		First(&transaction, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "TransactionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch transaction by ID")
		return nil, err
	}

	return &transaction, nil
}

// FindActiveByExpertAndSymbol returns the newest waiting/opened/closing
// transaction for (expert, symbol). Returns (nil, nil) if none exists.
func (r *TransactionRepository) FindActiveByExpertAndSymbol(ctx context.Context, expertID, symbol string) (*model.Transaction, error) {
	var transaction model.Transaction

	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND symbol = ? AND status IN ?", expertID, symbol, activeTransactionStatuses()).
		Order("id DESC").
		First(&transaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "TransactionRepository",
			"op":     "FindActiveByExpertAndSymbol",
			"expert": expertID,
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch active transaction")
		return nil, err
	}

	return &transaction, nil
}

// FindActiveByExpert returns all active transactions owned by an expert.
func (r *TransactionRepository) FindActiveByExpert(ctx context.Context, expertID string) ([]model.Transaction, error) {
	var transactions []model.Transaction

	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND status IN ?", expertID, activeTransactionStatuses()).
		Order("id ASC").
		Find(&transactions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TransactionRepository",
			"op":     "FindActiveByExpert",
			"expert": expertID,
		}).WithError(err).Error("Failed to fetch active transactions")
		return nil, err
	}

	return transactions, nil
}

// Save persists all mutable fields of the transaction.
func (r *TransactionRepository) Save(ctx context.Context, transaction *model.Transaction) error {
	logger.WithFields(map[string]interface{}{
		"repo":           "TransactionRepository",
		"op":             "Save",
		"transaction_id": transaction.ID,
		"status":         transaction.Status,
	}).Debug("Saving transaction")

	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", transaction.ID).
		Updates(map[string]interface{}{
			"status":      transaction.Status,
			"quantity":    transaction.Quantity,
			"open_price":  transaction.OpenPrice,
			"close_price": transaction.ClosePrice,
			"open_date":   transaction.OpenDate,
			"close_date":  transaction.CloseDate,
			"take_profit": transaction.TakeProfit,
			"stop_loss":   transaction.StopLoss,
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":           "TransactionRepository",
			"op":             "Save",
			"transaction_id": transaction.ID,
		}).WithError(err).Error("Failed to save transaction")
		return err
	}

	return nil
}

// Search lists transactions newest first with optional filters.
func (r *TransactionRepository) Search(ctx context.Context, expertID string, symbol string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}

	query := r.db.WithContext(ctx).Model(&model.Transaction{})
	if expertID != "" {
		query = query.Where("expert_id = ?", expertID)
	}
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var transactions []model.Transaction
	err := query.Order("id DESC").Limit(limit).Find(&transactions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TransactionRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search transactions")
		return nil, err
	}

	return transactions, nil
}

func activeTransactionStatuses() []string {
	return []string{
		model.TransactionStatusWaiting,
		model.TransactionStatusOpened,
		model.TransactionStatusClosing,
	}
}
