package ruleengine

import (
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

// Snapshot is everything a condition can read during one evaluation:
// the recommendation, the current transaction (nil when entering the
// market) and a live market price. It is built once per evaluation so
// every condition sees the same values.
type Snapshot struct {
	Recommendation *model.Recommendation
	Transaction    *model.Transaction
	CurrentPrice   decimal.Decimal
}

// Value resolves a trigger key against the snapshot. Unknown keys fall
// through to the recommendation's free-form attributes.
func (s Snapshot) Value(key string) (decimal.Decimal, bool) {
	switch key {
	case model.TriggerConfidence:
		return s.Recommendation.Confidence, true
	case model.TriggerExpectedProfitPct:
		return s.Recommendation.ExpectedProfitPct, true
	case model.TriggerCurrentPrice:
		return s.CurrentPrice, true
	case model.TriggerProfitPct:
		return s.profitPct()
	case model.TriggerPositionQuantity:
		if s.Transaction == nil {
			return decimal.Zero, true
		}
		return s.Transaction.Quantity, true
	}
	return s.Recommendation.Attribute(key)
}

// profitPct is the signed percent move from the entry fill price to the
// current price, negated for shorts.
func (s Snapshot) profitPct() (decimal.Decimal, bool) {
	if s.Transaction == nil || s.Transaction.OpenPrice == nil || s.Transaction.OpenPrice.IsZero() {
		return decimal.Zero, false
	}
	open := *s.Transaction.OpenPrice
	pct := s.CurrentPrice.Sub(open).Div(open).Mul(decimal.NewFromInt(100))
	if s.Transaction.Quantity.IsNegative() {
		pct = pct.Neg()
	}
	return pct, true
}

// operand resolves the value a condition compares against its threshold.
// For price conditions the reference selector decides between the live
// market price and the entry fill price; the two are never
// interchangeable.
func (s Snapshot) operand(condition model.RuleCondition) (decimal.Decimal, bool) {
	if condition.TriggerKey == model.TriggerCurrentPrice &&
		condition.Reference == model.ReferenceOrderOpenPrice {
		if s.Transaction == nil || s.Transaction.OpenPrice == nil {
			return decimal.Zero, false
		}
		return *s.Transaction.OpenPrice, true
	}
	return s.Value(condition.TriggerKey)
}

// Action is one executable instruction contributed by a matched rule.
// Exactly one OrderBook operation corresponds to each type; the payload
// fields used depend on the type.
type Action struct {
	Type     string
	RuleID   uint
	RuleName string

	Percent  *decimal.Decimal
	Quantity *decimal.Decimal
	Side     string
	Kind     string

	// Trace carries the evaluation detail of the rule that produced the
	// action, copied onto the ActionResult.
	Trace map[string]any
}

// Evaluate runs every enabled rule against the snapshot. All conditions
// of a rule must hold for it to match; matching rules contribute their
// actions in rule order. Evaluation is pure: no storage or broker access.
func Evaluate(rules []model.Rule, snapshot Snapshot) []Action {
	var actions []Action

	for _, rule := range rules {
		matched, trace := evaluateRule(rule, snapshot)
		if !matched {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"rule_id":   rule.ID,
			"rule_name": rule.Name,
			"expert":    rule.ExpertID,
			"actions":   len(rule.Actions),
		}).Debug("rule matched")

		for _, ra := range rule.Actions {
			actions = append(actions, Action{
				Type:     ra.Type,
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Percent:  ra.Percent,
				Quantity: ra.Quantity,
				Side:     ra.Side,
				Kind:     ra.Kind,
				Trace:    trace,
			})
		}
	}

	return actions
}

// evaluateRule short-circuits on the first failing condition and returns
// the per-condition trace for the audit record.
func evaluateRule(rule model.Rule, snapshot Snapshot) (bool, map[string]any) {
	trace := map[string]any{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
	}
	var conditions []map[string]any

	for _, condition := range rule.Conditions {
		operand, ok := snapshot.operand(condition)
		detail := map[string]any{
			"trigger_key": condition.TriggerKey,
			"operator":    condition.Operator,
			"threshold":   condition.Threshold.String(),
			"reference":   condition.Reference,
		}
		if !ok {
			detail["resolved"] = false
			conditions = append(conditions, detail)
			trace["conditions"] = conditions
			trace["matched"] = false
			return false, trace
		}

		holds := compare(condition, operand)
		detail["resolved"] = true
		detail["operand"] = operand.String()
		detail["holds"] = holds
		conditions = append(conditions, detail)

		if !holds {
			trace["conditions"] = conditions
			trace["matched"] = false
			return false, trace
		}
	}

	trace["conditions"] = conditions
	trace["matched"] = true
	return true, trace
}

func compare(condition model.RuleCondition, operand decimal.Decimal) bool {
	switch condition.Operator {
	case model.OperatorGTE:
		return operand.GreaterThanOrEqual(condition.Threshold)
	case model.OperatorLTE:
		return operand.LessThanOrEqual(condition.Threshold)
	case model.OperatorEQ:
		return operand.Equal(condition.Threshold)
	case model.OperatorNEQ:
		return !operand.Equal(condition.Threshold)
	case model.OperatorBetween:
		if condition.ThresholdHigh == nil {
			return false
		}
		return operand.GreaterThanOrEqual(condition.Threshold) &&
			operand.LessThanOrEqual(*condition.ThresholdHigh)
	}

	logger.WithFields(map[string]interface{}{
		"operator":     condition.Operator,
		"condition_id": condition.ID,
	}).Warn("unknown condition operator, treating as non-match")
	return false
}
