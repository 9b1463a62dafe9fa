package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecore/src/database"
	"tradecore/src/model"
)

// RecommendationRepository stores expert outputs awaiting processing.
type RecommendationRepository struct {
	db *gorm.DB
}

// NewRecommendationRepository creates a new repository instance using the main read/write database.
func NewRecommendationRepository() *RecommendationRepository {
	return &RecommendationRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *RecommendationRepository) WithDB(db *gorm.DB) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

// Create persists a new recommendation.
func (r *RecommendationRepository) Create(ctx context.Context, rec *model.Recommendation) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "RecommendationRepository",
		"op":     "Create",
		"expert": rec.ExpertID,
		"symbol": rec.Symbol,
		"action": rec.Action,
	}).Debug("Persisting recommendation")

	err := r.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "RecommendationRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to persist recommendation")
		return err
	}

	return nil
}

// FindByID fetches a recommendation.
// Returns (nil, nil) if not found.
func (r *RecommendationRepository) FindByID(ctx context.Context, id uint) (*model.Recommendation, error) {
	var rec model.Recommendation

	err := r.db.WithContext(ctx).First(&rec, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "RecommendationRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch recommendation")
		return nil, err
	}

	return &rec, nil
}

// FindPendingByExpert returns unprocessed recommendations for an expert,
// oldest first, so the completion barrier drains them in arrival order.
func (r *RecommendationRepository) FindPendingByExpert(ctx context.Context, expertID string) ([]model.Recommendation, error) {
	var recs []model.Recommendation

	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND status = ?", expertID, model.RecommendationStatusPending).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "RecommendationRepository",
			"op":     "FindPendingByExpert",
			"expert": expertID,
		}).WithError(err).Error("Failed to fetch pending recommendations")
		return nil, err
	}

	return recs, nil
}

// MarkProcessed flags a recommendation as consumed by the rule engine.
func (r *RecommendationRepository) MarkProcessed(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&model.Recommendation{}).
		Where("id = ?", id).
		Update("status", model.RecommendationStatusProcessed).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "RecommendationRepository",
			"op":   "MarkProcessed",
			"id":   id,
		}).WithError(err).Error("Failed to mark recommendation processed")
		return err
	}

	return nil
}
