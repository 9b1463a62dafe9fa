package model

import "time"

const (
	UseCaseEnterMarket   = "enter_market"
	UseCaseOpenPositions = "open_positions"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCanceled  = "canceled"
)

// AnalysisTask is one unit of scheduled expert work. The scheduler
// deduplicates tasks on (expert_id, symbol, use_case) while a task is
// pending or running.
type AnalysisTask struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Handle     string     `gorm:"size:40;uniqueIndex" json:"handle"`
	ExpertID   string     `gorm:"size:60;index:idx_task_identity" json:"expert_id"`
	Symbol     string     `gorm:"size:30;index:idx_task_identity" json:"symbol"`
	UseCase    string     `gorm:"size:20;index:idx_task_identity" json:"use_case"`
	Status     string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	Priority   int        `gorm:"default:0" json:"priority"`
	Result     string     `gorm:"type:text" json:"result,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (AnalysisTask) TableName() string {
	return "analysis_tasks"
}

// IsActive reports whether the task still occupies its (expert, symbol,
// use case) identity for deduplication purposes.
func (t *AnalysisTask) IsActive() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusRunning
}
