package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Condition operators.
const (
	OperatorGTE     = "gte"
	OperatorLTE     = "lte"
	OperatorEQ      = "eq"
	OperatorNEQ     = "neq"
	OperatorBetween = "between"
)

// Reference value selectors: which price snapshot a condition compares
// against. Current market price and the order fill price are distinct and
// never interchangeable.
const (
	ReferenceCurrentPrice   = "current_price"
	ReferenceOrderOpenPrice = "order_open_price"
)

// Well-known trigger keys resolvable from the evaluation snapshot.
const (
	TriggerConfidence        = "confidence"
	TriggerExpectedProfitPct = "expected_profit_pct"
	TriggerCurrentPrice      = "current_price"
	TriggerProfitPct         = "profit_pct"
	TriggerPositionQuantity  = "position_quantity"
)

// Action types produced by matching rules.
const (
	ActionAdjustTakeProfit = "adjust_take_profit"
	ActionAdjustStopLoss   = "adjust_stop_loss"
	ActionClosePosition    = "close_position"
	ActionAdjustQuantity   = "adjust_quantity"
	ActionSubmitOrder      = "submit_order"
)

// Rule binds a set of conditions (all must hold) to an ordered list of
// actions for one expert and use case. Rules are data, loaded from the
// database, never code.
type Rule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ExpertID  string    `gorm:"size:60;index:idx_rule_scope" json:"expert_id"`
	UseCase   string    `gorm:"size:20;index:idx_rule_scope" json:"use_case"`
	Name      string    `gorm:"size:120" json:"name"`
	Priority  int       `gorm:"default:0;index" json:"priority"`
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Conditions []RuleCondition `gorm:"foreignKey:RuleID" json:"conditions,omitempty"`
	Actions    []RuleAction    `gorm:"foreignKey:RuleID" json:"actions,omitempty"`
}

func (Rule) TableName() string {
	return "rules"
}

// RuleCondition is one comparison in the rule's condition set.
type RuleCondition struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	RuleID     uint            `gorm:"index" json:"rule_id"`
	TriggerKey string          `gorm:"size:60;not null" json:"trigger_key"`
	Operator   string          `gorm:"size:10;not null" json:"operator"`
	Threshold  decimal.Decimal `gorm:"type:numeric" json:"threshold"`
	// ThresholdHigh is only read by the between operator.
	ThresholdHigh *decimal.Decimal `gorm:"type:numeric" json:"threshold_high,omitempty"`
	Reference     string           `gorm:"size:30;not null;default:current_price" json:"reference"`
}

func (RuleCondition) TableName() string {
	return "rule_conditions"
}

// RuleAction is the persisted configuration for one action a matching rule
// contributes, in rule order.
type RuleAction struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	RuleID   uint   `gorm:"index" json:"rule_id"`
	Type     string `gorm:"size:30;not null" json:"type"`
	Sequence int    `gorm:"default:0" json:"sequence"`
	// Percent drives TP/SL adjustments relative to the entry fill price.
	Percent *decimal.Decimal `gorm:"type:numeric" json:"percent,omitempty"`
	// Quantity drives adjust_quantity and submit_order.
	Quantity *decimal.Decimal `gorm:"type:numeric" json:"quantity,omitempty"`
	Side     string           `gorm:"size:10" json:"side,omitempty"`
	Kind     string           `gorm:"size:10" json:"kind,omitempty"`
}

func (RuleAction) TableName() string {
	return "rule_actions"
}
