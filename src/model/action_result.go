package model

import "time"

// ActionResult is the audit record of one rule-engine action execution.
// RecommendationID is never zero: results are built through
// NewActionResult so the audit chain recommendation -> evaluation ->
// action -> order can always be walked.
type ActionResult struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	RecommendationID uint           `gorm:"not null;index" json:"recommendation_id"`
	TransactionID    *uint          `gorm:"index" json:"transaction_id,omitempty"`
	OrderID          *uint          `gorm:"index" json:"order_id,omitempty"`
	ActionType       string         `gorm:"size:30;not null" json:"action_type"`
	Success          bool           `json:"success"`
	Message          string         `gorm:"size:1024" json:"message"`
	// Trace holds the full evaluation detail: matched conditions, operand
	// values and computed parameters.
	Trace     map[string]any `gorm:"type:jsonb;serializer:json" json:"trace,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (ActionResult) TableName() string {
	return "action_results"
}

// NewActionResult is the only way to build an ActionResult. It refuses a
// zero recommendation id so orphaned audit rows cannot be constructed.
func NewActionResult(recommendationID uint, actionType string) (*ActionResult, error) {
	if recommendationID == 0 {
		return nil, ErrMissingRecommendation
	}
	return &ActionResult{
		RecommendationID: recommendationID,
		ActionType:       actionType,
		Trace:            map[string]any{},
	}, nil
}
