package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecore/src/database"
	"tradecore/src/model"
)

// BrokerAccountRepository stores broker connection settings.
type BrokerAccountRepository struct {
	db *gorm.DB
}

// NewBrokerAccountRepository creates a new repository instance using the main read/write database.
func NewBrokerAccountRepository() *BrokerAccountRepository {
	return &BrokerAccountRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *BrokerAccountRepository) WithDB(db *gorm.DB) *BrokerAccountRepository {
	return &BrokerAccountRepository{db: db}
}

// Create inserts a new broker account.
func (r *BrokerAccountRepository) Create(ctx context.Context, account *model.BrokerAccount) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "BrokerAccountRepository",
			"op":   "Create",
			"name": account.Name,
		}).WithError(err).Error("Failed to create broker account")
		return err
	}
	return nil
}

// FindByName fetches one broker account by its unique name.
// Returns (nil, nil) if not found.
func (r *BrokerAccountRepository) FindByName(ctx context.Context, name string) (*model.BrokerAccount, error) {
	var account model.BrokerAccount

	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "BrokerAccountRepository",
			"op":   "FindByName",
			"name": name,
		}).WithError(err).Error("Failed to fetch broker account")
		return nil, err
	}

	return &account, nil
}
