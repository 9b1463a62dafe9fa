package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecore/src/database"
	"tradecore/src/model"
)

// RuleRepository loads the rule sets the engine evaluates.
type RuleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new repository instance using the main read/write database.
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *RuleRepository) WithDB(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// FindEnabled returns the enabled rules for (expert, useCase) with their
// conditions and actions, ordered by priority then id. Rule order decides
// action order.
func (r *RuleRepository) FindEnabled(ctx context.Context, expertID, useCase string) ([]model.Rule, error) {
	var rules []model.Rule

	err := r.db.WithContext(ctx).
		Preload("Conditions").
		Preload("Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("rule_actions.sequence ASC")
		}).
		Where("expert_id = ? AND use_case = ? AND enabled = ?", expertID, useCase, true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "RuleRepository",
			"op":       "FindEnabled",
			"expert":   expertID,
			"use_case": useCase,
		}).WithError(err).Error("Failed to load rules")
		return nil, err
	}

	return rules, nil
}
