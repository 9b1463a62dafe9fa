package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradecore/src/database"
	"tradecore/src/model"
)

// TaskRepository handles persistence of analysis tasks.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new repository instance using the main read/write database.
func NewTaskRepository() *TaskRepository {
	return &TaskRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TaskRepository) WithDB(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new analysis task.
func (r *TaskRepository) Create(ctx context.Context, task *model.AnalysisTask) error {
	logger.WithFields(map[string]interface{}{
		"repo":     "TaskRepository",
		"op":       "Create",
		"expert":   task.ExpertID,
		"symbol":   task.Symbol,
		"use_case": task.UseCase,
	}).Debug("Creating analysis task")

	err := r.db.WithContext(ctx).Create(task).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TaskRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create analysis task")
		return err
	}

	return nil
}

// FindActiveByIdentity returns the pending/running task for
// (expert, symbol, useCase), or (nil, nil) when none is active. This is
// the deduplication lookup: a duplicate Submit returns this row's handle.
func (r *TaskRepository) FindActiveByIdentity(ctx context.Context, expertID, symbol, useCase string) (*model.AnalysisTask, error) {
	var task model.AnalysisTask

	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND symbol = ? AND use_case = ? AND status IN ?",
			expertID, symbol, useCase,
			[]string{model.TaskStatusPending, model.TaskStatusRunning}).
		Order("id DESC").
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":     "TaskRepository",
			"op":       "FindActiveByIdentity",
			"expert":   expertID,
			"symbol":   symbol,
			"use_case": useCase,
		}).WithError(err).Error("Failed to fetch active task")
		return nil, err
	}

	return &task, nil
}

// FindByHandle fetches a task by its external handle.
// Returns (nil, nil) if not found.
func (r *TaskRepository) FindByHandle(ctx context.Context, handle string) (*model.AnalysisTask, error) {
	var task model.AnalysisTask

	err := r.db.WithContext(ctx).
		Where("handle = ?", handle).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "TaskRepository",
			"op":     "FindByHandle",
			"handle": handle,
		}).WithError(err).Error("Failed to fetch task by handle")
		return nil, err
	}

	return &task, nil
}

// CountActiveForExpertUseCase counts pending/running tasks for one
// (expert, useCase) pair. The completion barrier fires when this reaches
// zero.
func (r *TaskRepository) CountActiveForExpertUseCase(ctx context.Context, expertID, useCase string) (int64, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.AnalysisTask{}).
		Where("expert_id = ? AND use_case = ? AND status IN ?",
			expertID, useCase,
			[]string{model.TaskStatusPending, model.TaskStatusRunning}).
		Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TaskRepository",
			"op":       "CountActiveForExpertUseCase",
			"expert":   expertID,
			"use_case": useCase,
		}).WithError(err).Error("Failed to count active tasks")
		return 0, err
	}

	return count, nil
}

// MarkRunning transitions a pending task to running.
func (r *TaskRepository) MarkRunning(ctx context.Context, id uint) error {
	now := time.Now()
	return r.updateFields(ctx, id, "MarkRunning", map[string]interface{}{
		"status":     model.TaskStatusRunning,
		"started_at": &now,
	})
}

// MarkCompleted stores the result and finishes the task.
func (r *TaskRepository) MarkCompleted(ctx context.Context, id uint, result string) error {
	now := time.Now()
	return r.updateFields(ctx, id, "MarkCompleted", map[string]interface{}{
		"status":      model.TaskStatusCompleted,
		"result":      result,
		"finished_at": &now,
	})
}

// MarkFailed stores the failure reason and finishes the task.
func (r *TaskRepository) MarkFailed(ctx context.Context, id uint, reason string) error {
	now := time.Now()
	return r.updateFields(ctx, id, "MarkFailed", map[string]interface{}{
		"status":      model.TaskStatusFailed,
		"error":       reason,
		"finished_at": &now,
	})
}

// MarkCanceled cancels a task that never started running.
func (r *TaskRepository) MarkCanceled(ctx context.Context, id uint) error {
	now := time.Now()
	return r.updateFields(ctx, id, "MarkCanceled", map[string]interface{}{
		"status":      model.TaskStatusCanceled,
		"finished_at": &now,
	})
}

// ClearDerived resets a finished task back to pending with its outputs
// wiped, keeping the same logical identity and handle so a re-run does not
// create a duplicate task.
func (r *TaskRepository) ClearDerived(ctx context.Context, id uint) error {
	return r.updateFields(ctx, id, "ClearDerived", map[string]interface{}{
		"status":      model.TaskStatusPending,
		"result":      "",
		"error":       "",
		"started_at":  nil,
		"finished_at": nil,
	})
}

// Search lists tasks newest first with optional status filter.
func (r *TaskRepository) Search(ctx context.Context, status string, limit int) ([]model.AnalysisTask, error) {
	if limit <= 0 {
		limit = 20
	}

	query := r.db.WithContext(ctx).Model(&model.AnalysisTask{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var tasks []model.AnalysisTask
	err := query.Order("id DESC").Limit(limit).Find(&tasks).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TaskRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search tasks")
		return nil, err
	}

	return tasks, nil
}

func (r *TaskRepository) updateFields(ctx context.Context, id uint, op string, fields map[string]interface{}) error {
	err := r.db.WithContext(ctx).
		Model(&model.AnalysisTask{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TaskRepository",
			"op":      op,
			"task_id": id,
		}).WithError(err).Error("Failed to update task")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "TaskRepository",
		"op":      op,
		"task_id": id,
	}).Debug("Task updated")

	return nil
}
