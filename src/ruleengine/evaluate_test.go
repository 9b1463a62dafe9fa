package ruleengine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecore/src/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func buyRecommendation() *model.Recommendation {
	return &model.Recommendation{
		ID:                7,
		ExpertID:          "momentum",
		Symbol:            "AAPL",
		Action:            model.RecommendationActionBuy,
		Confidence:        dec("0.82"),
		ExpectedProfitPct: dec("6"),
		ReferencePrice:    dec("200"),
		Attributes:        map[string]any{"rsi": 28.5},
	}
}

func TestEvaluateAllConditionsMustHold(t *testing.T) {
	rule := model.Rule{
		ID:   1,
		Name: "strong entry",
		Conditions: []model.RuleCondition{
			{TriggerKey: model.TriggerConfidence, Operator: model.OperatorGTE, Threshold: dec("0.7")},
			{TriggerKey: model.TriggerExpectedProfitPct, Operator: model.OperatorGTE, Threshold: dec("10")},
		},
		Actions: []model.RuleAction{{Type: model.ActionSubmitOrder, Quantity: decPtr("10")}},
	}

	snapshot := Snapshot{Recommendation: buyRecommendation(), CurrentPrice: dec("201")}

	// expected_profit_pct is 6, below the 10 threshold.
	require.Empty(t, Evaluate([]model.Rule{rule}, snapshot))

	rule.Conditions[1].Threshold = dec("5")
	actions := Evaluate([]model.Rule{rule}, snapshot)
	require.Len(t, actions, 1)
	require.Equal(t, model.ActionSubmitOrder, actions[0].Type)
	require.Equal(t, uint(1), actions[0].RuleID)
}

func TestEvaluateMatchingRulesContributeInOrder(t *testing.T) {
	first := model.Rule{
		ID:         1,
		Conditions: []model.RuleCondition{{TriggerKey: model.TriggerConfidence, Operator: model.OperatorGTE, Threshold: dec("0.5")}},
		Actions: []model.RuleAction{
			{Type: model.ActionSubmitOrder, Sequence: 0, Quantity: decPtr("10")},
			{Type: model.ActionAdjustTakeProfit, Sequence: 1, Percent: decPtr("12")},
		},
	}
	second := model.Rule{
		ID:         2,
		Conditions: []model.RuleCondition{{TriggerKey: model.TriggerConfidence, Operator: model.OperatorGTE, Threshold: dec("0.8")}},
		Actions:    []model.RuleAction{{Type: model.ActionAdjustStopLoss, Percent: decPtr("5")}},
	}

	snapshot := Snapshot{Recommendation: buyRecommendation(), CurrentPrice: dec("201")}
	actions := Evaluate([]model.Rule{first, second}, snapshot)

	require.Len(t, actions, 3)
	require.Equal(t, model.ActionSubmitOrder, actions[0].Type)
	require.Equal(t, model.ActionAdjustTakeProfit, actions[1].Type)
	require.Equal(t, model.ActionAdjustStopLoss, actions[2].Type)
}

func TestEvaluateBetweenOperator(t *testing.T) {
	rule := model.Rule{
		ID: 1,
		Conditions: []model.RuleCondition{{
			TriggerKey:    model.TriggerCurrentPrice,
			Operator:      model.OperatorBetween,
			Threshold:     dec("195"),
			ThresholdHigh: decPtr("205"),
		}},
		Actions: []model.RuleAction{{Type: model.ActionClosePosition}},
	}

	in := Snapshot{Recommendation: buyRecommendation(), CurrentPrice: dec("200")}
	out := Snapshot{Recommendation: buyRecommendation(), CurrentPrice: dec("210")}

	require.Len(t, Evaluate([]model.Rule{rule}, in), 1)
	require.Empty(t, Evaluate([]model.Rule{rule}, out))
}

func TestEvaluateAttributeFallback(t *testing.T) {
	rule := model.Rule{
		ID:         1,
		Conditions: []model.RuleCondition{{TriggerKey: "rsi", Operator: model.OperatorLTE, Threshold: dec("30")}},
		Actions:    []model.RuleAction{{Type: model.ActionSubmitOrder, Quantity: decPtr("5")}},
	}

	snapshot := Snapshot{Recommendation: buyRecommendation(), CurrentPrice: dec("200")}
	require.Len(t, Evaluate([]model.Rule{rule}, snapshot), 1)

	// An unknown key makes the condition unresolvable, never a match.
	rule.Conditions[0].TriggerKey = "macd"
	require.Empty(t, Evaluate([]model.Rule{rule}, snapshot))
}

func TestOperandReferenceSelectsFillPriceOverMarket(t *testing.T) {
	open := dec("180")
	transaction := &model.Transaction{ID: 3, Status: model.TransactionStatusOpened, OpenPrice: &open, Quantity: dec("10")}
	snapshot := Snapshot{Recommendation: buyRecommendation(), Transaction: transaction, CurrentPrice: dec("200")}

	market := model.RuleCondition{TriggerKey: model.TriggerCurrentPrice, Operator: model.OperatorGTE, Threshold: dec("190"), Reference: model.ReferenceCurrentPrice}
	fill := model.RuleCondition{TriggerKey: model.TriggerCurrentPrice, Operator: model.OperatorGTE, Threshold: dec("190"), Reference: model.ReferenceOrderOpenPrice}

	operand, ok := snapshot.operand(market)
	require.True(t, ok)
	require.True(t, operand.Equal(dec("200")))

	operand, ok = snapshot.operand(fill)
	require.True(t, ok)
	require.True(t, operand.Equal(dec("180")))
}

func TestSnapshotProfitPct(t *testing.T) {
	open := dec("200")

	long := Snapshot{
		Recommendation: buyRecommendation(),
		Transaction:    &model.Transaction{OpenPrice: &open, Quantity: dec("10")},
		CurrentPrice:   dec("210"),
	}
	pct, ok := long.Value(model.TriggerProfitPct)
	require.True(t, ok)
	require.True(t, pct.Equal(dec("5")))

	short := Snapshot{
		Recommendation: buyRecommendation(),
		Transaction:    &model.Transaction{OpenPrice: &open, Quantity: dec("-10")},
		CurrentPrice:   dec("210"),
	}
	pct, ok = short.Value(model.TriggerProfitPct)
	require.True(t, ok)
	require.True(t, pct.Equal(dec("-5")))
}
