package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecore/src/database"
	"tradecore/src/model"
)

// ActionResultRepository persists the audit trail of rule-engine actions.
type ActionResultRepository struct {
	db *gorm.DB
}

// NewActionResultRepository creates a new repository instance using the main read/write database.
func NewActionResultRepository() *ActionResultRepository {
	return &ActionResultRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ActionResultRepository) WithDB(db *gorm.DB) *ActionResultRepository {
	return &ActionResultRepository{db: db}
}

// Create persists an action result. A zero recommendation id is rejected
// here as well, so the audit invariant holds even for callers that bypass
// the model constructor.
func (r *ActionResultRepository) Create(ctx context.Context, result *model.ActionResult) error {
	if result.RecommendationID == 0 {
		return model.ErrMissingRecommendation
	}

	logger.WithFields(map[string]interface{}{
		"repo":              "ActionResultRepository",
		"op":                "Create",
		"action_type":       result.ActionType,
		"recommendation_id": result.RecommendationID,
		"success":           result.Success,
	}).Debug("Persisting action result")

	err := r.db.WithContext(ctx).Create(result).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ActionResultRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to persist action result")
		return err
	}

	return nil
}

// FindByRecommendation returns all results recorded for a recommendation,
// oldest first.
func (r *ActionResultRepository) FindByRecommendation(ctx context.Context, recommendationID uint) ([]model.ActionResult, error) {
	var results []model.ActionResult

	err := r.db.WithContext(ctx).
		Where("recommendation_id = ?", recommendationID).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":              "ActionResultRepository",
			"op":                "FindByRecommendation",
			"recommendation_id": recommendationID,
		}).WithError(err).Error("Failed to fetch action results")
		return nil, err
	}

	return results, nil
}

// FindLatest lists the newest results.
func (r *ActionResultRepository) FindLatest(ctx context.Context, limit int) ([]model.ActionResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var results []model.ActionResult
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ActionResultRepository",
			"op":   "FindLatest",
		}).WithError(err).Error("Failed to fetch latest action results")
		return nil, err
	}

	return results, nil
}
