package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RecommendationActionBuy   = "BUY"
	RecommendationActionSell  = "SELL"
	RecommendationActionHold  = "HOLD"
	RecommendationActionClose = "CLOSE"
)

const (
	RecommendationStatusPending   = "pending"
	RecommendationStatusProcessed = "processed"
)

// Recommendation is the immutable output of an expert analysis run. The
// rule engine consumes pending recommendations and records every action it
// takes against them.
type Recommendation struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	ExpertID          string          `gorm:"size:60;index" json:"expert_id"`
	Symbol            string          `gorm:"size:30;index" json:"symbol"`
	Action            string          `gorm:"size:10;not null" json:"action"`
	Confidence        decimal.Decimal `gorm:"type:numeric" json:"confidence"`
	ExpectedProfitPct decimal.Decimal `gorm:"type:numeric" json:"expected_profit_pct"`
	ReferencePrice    decimal.Decimal `gorm:"type:numeric" json:"reference_price"`
	// Free-form signal attributes consumed by rule conditions.
	Attributes map[string]any `gorm:"type:jsonb;serializer:json" json:"attributes,omitempty"`
	Status     string         `gorm:"size:20;not null;default:pending" json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (Recommendation) TableName() string {
	return "recommendations"
}

// Attribute reads a numeric signal attribute. Attributes arrive from JSON,
// so numbers may be float64 or string encoded.
func (r *Recommendation) Attribute(key string) (decimal.Decimal, bool) {
	if r.Attributes == nil {
		return decimal.Zero, false
	}
	raw, ok := r.Attributes[key]
	if !ok {
		return decimal.Zero, false
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}
