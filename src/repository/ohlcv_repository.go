package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradecore/src/database"
	"tradecore/src/model"
)

// OHLCVRepository stores backfilled market candles.
type OHLCVRepository struct {
	db *gorm.DB
}

// NewOHLCVRepository creates a new repository instance using the main read/write database.
func NewOHLCVRepository() *OHLCVRepository {
	return &OHLCVRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OHLCVRepository) WithDB(db *gorm.DB) *OHLCVRepository {
	return &OHLCVRepository{db: db}
}

// UpsertBars inserts candles, updating rows that already exist for the
// (symbol, interval, datetime) key. Backfills overlap on purpose.
func (r *OHLCVRepository) UpsertBars(ctx context.Context, bars []model.OHLCVBar) error {
	if len(bars) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "datetime"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		Create(&bars).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OHLCVRepository",
			"op":   "UpsertBars",
			"rows": len(bars),
		}).WithError(err).Error("Failed to upsert candles")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo": "OHLCVRepository",
		"op":   "UpsertBars",
		"rows": len(bars),
	}).Info("Candles upserted")

	return nil
}

// FindRecent returns the newest candles for (symbol, interval), newest
// first.
func (r *OHLCVRepository) FindRecent(ctx context.Context, symbol, interval string, limit int) ([]model.OHLCVBar, error) {
	if limit <= 0 {
		limit = 50
	}

	var bars []model.OHLCVBar
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("datetime DESC").
		Limit(limit).
		Find(&bars).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OHLCVRepository",
			"op":       "FindRecent",
			"symbol":   symbol,
			"interval": interval,
		}).WithError(err).Error("Failed to fetch candles")
		return nil, err
	}

	return bars, nil
}
