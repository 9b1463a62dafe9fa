package ruleengine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecore/src/model"
)

// fakeBook records order book calls and fabricates ids like the real
// stores would.
type fakeBook struct {
	price decimal.Decimal

	nextTxID    uint
	nextOrderID uint

	takeProfits []decimal.Decimal
	stopLosses  []decimal.Decimal
	closed      []uint
	submitted   []model.Order

	submitErr error
}

func (f *fakeBook) OpenPosition(_ context.Context, transaction *model.Transaction, order *model.Order) error {
	if transaction.ID == 0 {
		f.nextTxID++
		transaction.ID = f.nextTxID
	}
	f.nextOrderID++
	order.ID = f.nextOrderID
	order.TransactionID = transaction.ID
	if f.submitErr != nil {
		order.Status = model.OrderStatusRejected
		return f.submitErr
	}
	order.Status = model.OrderStatusOpen
	f.submitted = append(f.submitted, *order)
	return nil
}

func (f *fakeBook) UpsertTakeProfit(_ context.Context, transactionID uint, percent decimal.Decimal) (*model.Order, error) {
	f.takeProfits = append(f.takeProfits, percent)
	f.nextOrderID++
	return &model.Order{ID: f.nextOrderID, TransactionID: transactionID, Status: model.OrderStatusWaitingTrigger}, nil
}

func (f *fakeBook) UpsertStopLoss(_ context.Context, transactionID uint, percent decimal.Decimal) (*model.Order, error) {
	f.stopLosses = append(f.stopLosses, percent)
	f.nextOrderID++
	return &model.Order{ID: f.nextOrderID, TransactionID: transactionID, Status: model.OrderStatusWaitingTrigger}, nil
}

func (f *fakeBook) ClosePosition(_ context.Context, transactionID uint) (*model.Order, error) {
	f.closed = append(f.closed, transactionID)
	f.nextOrderID++
	return &model.Order{ID: f.nextOrderID, TransactionID: transactionID}, nil
}

func (f *fakeBook) AdjustQuantity(_ context.Context, transactionID uint, quantity decimal.Decimal) (*model.Order, error) {
	f.nextOrderID++
	return &model.Order{ID: f.nextOrderID, TransactionID: transactionID, Quantity: quantity}, nil
}

func (f *fakeBook) GetPrice(context.Context, string, string) (decimal.Decimal, error) {
	return f.price, nil
}

type fakeRules struct {
	rules map[string][]model.Rule
}

func (f *fakeRules) FindEnabled(_ context.Context, _ string, useCase string) ([]model.Rule, error) {
	return f.rules[useCase], nil
}

type fakeRecommendations struct {
	pending   []model.Recommendation
	processed []uint
}

func (f *fakeRecommendations) FindPendingByExpert(context.Context, string) ([]model.Recommendation, error) {
	return f.pending, nil
}

func (f *fakeRecommendations) MarkProcessed(_ context.Context, id uint) error {
	f.processed = append(f.processed, id)
	return nil
}

type fakeResults struct {
	created []model.ActionResult
}

func (f *fakeResults) Create(_ context.Context, result *model.ActionResult) error {
	f.created = append(f.created, *result)
	return nil
}

type fakeTransactions struct {
	active *model.Transaction
}

func (f *fakeTransactions) FindActiveByExpertAndSymbol(context.Context, string, string) (*model.Transaction, error) {
	return f.active, nil
}

func newTestEngine(book *fakeBook, rules *fakeRules, recs *fakeRecommendations, results *fakeResults, txs *fakeTransactions) *Engine {
	return NewEngine(book, rules, recs, results, txs)
}

func TestProcessRecommendationsEntersMarket(t *testing.T) {
	book := &fakeBook{price: dec("200")}
	rules := &fakeRules{rules: map[string][]model.Rule{
		model.UseCaseEnterMarket: {{
			ID:         1,
			Name:       "enter on confidence",
			Conditions: []model.RuleCondition{{TriggerKey: model.TriggerConfidence, Operator: model.OperatorGTE, Threshold: dec("0.7")}},
			Actions: []model.RuleAction{
				{Type: model.ActionSubmitOrder, Sequence: 0, Quantity: decPtr("10")},
				{Type: model.ActionAdjustTakeProfit, Sequence: 1, Percent: decPtr("12")},
				{Type: model.ActionAdjustStopLoss, Sequence: 2, Percent: decPtr("5")},
			},
		}},
	}}
	recs := &fakeRecommendations{pending: []model.Recommendation{*buyRecommendation()}}
	results := &fakeResults{}
	engine := newTestEngine(book, rules, recs, results, &fakeTransactions{})

	require.NoError(t, engine.ProcessRecommendations(context.Background(), "momentum"))

	require.Len(t, book.submitted, 1)
	require.Equal(t, model.OrderSideBuy, book.submitted[0].Side)
	require.Equal(t, model.OrderOriginAutomatic, book.submitted[0].Origin)
	require.NotNil(t, book.submitted[0].RecommendationID)
	require.Equal(t, uint(7), *book.submitted[0].RecommendationID)

	require.Len(t, book.takeProfits, 1)
	require.True(t, book.takeProfits[0].Equal(dec("12")))
	require.Len(t, book.stopLosses, 1)
	require.True(t, book.stopLosses[0].Equal(dec("5")))

	// One result per executed action, all chained to the recommendation.
	require.Len(t, results.created, 3)
	for _, result := range results.created {
		require.Equal(t, uint(7), result.RecommendationID)
		require.True(t, result.Success)
		require.NotNil(t, result.TransactionID)
		require.NotNil(t, result.OrderID)
	}

	require.Equal(t, []uint{7}, recs.processed)
}

func TestProcessRecommendationsHoldDoesNothing(t *testing.T) {
	rec := *buyRecommendation()
	rec.Action = model.RecommendationActionHold

	book := &fakeBook{price: dec("200")}
	recs := &fakeRecommendations{pending: []model.Recommendation{rec}}
	results := &fakeResults{}
	engine := newTestEngine(book, &fakeRules{}, recs, results, &fakeTransactions{})

	require.NoError(t, engine.ProcessRecommendations(context.Background(), "momentum"))
	require.Empty(t, book.submitted)
	require.Empty(t, results.created)
	require.Equal(t, []uint{7}, recs.processed)
}

func TestProcessRecommendationsCloseBypassesRules(t *testing.T) {
	rec := *buyRecommendation()
	rec.Action = model.RecommendationActionClose

	open := dec("180")
	active := &model.Transaction{ID: 9, Status: model.TransactionStatusOpened, OpenPrice: &open, Quantity: dec("10")}

	book := &fakeBook{price: dec("200")}
	recs := &fakeRecommendations{pending: []model.Recommendation{rec}}
	results := &fakeResults{}
	engine := newTestEngine(book, &fakeRules{}, recs, results, &fakeTransactions{active: active})

	require.NoError(t, engine.ProcessRecommendations(context.Background(), "momentum"))

	require.Equal(t, []uint{9}, book.closed)
	require.Len(t, results.created, 1)
	require.Equal(t, model.ActionClosePosition, results.created[0].ActionType)
	require.True(t, results.created[0].Success)
	require.Equal(t, uint(7), results.created[0].RecommendationID)
}

func TestExecuteRecordsBrokerFailureAsResult(t *testing.T) {
	book := &fakeBook{price: dec("200"), submitErr: errors.New("order rejected by broker: size too large")}
	results := &fakeResults{}
	engine := newTestEngine(book, &fakeRules{}, &fakeRecommendations{}, results, &fakeTransactions{})

	action := Action{Type: model.ActionSubmitOrder, Quantity: decPtr("10")}
	result, _, err := engine.Execute(context.Background(), action, buyRecommendation(), nil)

	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Message, "rejected")
	require.Len(t, results.created, 1)
	require.Equal(t, uint(7), results.created[0].RecommendationID)
}

func TestExecuteClosePositionRequiresOpenedTransaction(t *testing.T) {
	book := &fakeBook{price: dec("200")}
	results := &fakeResults{}
	engine := newTestEngine(book, &fakeRules{}, &fakeRecommendations{}, results, &fakeTransactions{})

	waiting := &model.Transaction{ID: 4, Status: model.TransactionStatusWaiting}
	result, _, err := engine.Execute(context.Background(), Action{Type: model.ActionClosePosition}, buyRecommendation(), waiting)

	require.NoError(t, err)
	require.False(t, result.Success)
	require.Empty(t, book.closed)
}

func TestProcessRecommendationsManagesOpenPosition(t *testing.T) {
	open := dec("200")
	active := &model.Transaction{ID: 5, Status: model.TransactionStatusOpened, OpenPrice: &open, Quantity: dec("10")}

	rules := &fakeRules{rules: map[string][]model.Rule{
		model.UseCaseOpenPositions: {{
			ID:         2,
			Name:       "tighten stop in profit",
			Conditions: []model.RuleCondition{{TriggerKey: model.TriggerProfitPct, Operator: model.OperatorGTE, Threshold: dec("4")}},
			Actions:    []model.RuleAction{{Type: model.ActionAdjustStopLoss, Percent: decPtr("1")}},
		}},
	}}

	book := &fakeBook{price: dec("210")}
	recs := &fakeRecommendations{pending: []model.Recommendation{*buyRecommendation()}}
	results := &fakeResults{}
	engine := newTestEngine(book, rules, recs, results, &fakeTransactions{active: active})

	require.NoError(t, engine.ProcessRecommendations(context.Background(), "momentum"))

	require.Len(t, book.stopLosses, 1)
	require.True(t, book.stopLosses[0].Equal(dec("1")))
	require.Len(t, results.created, 1)
	require.Equal(t, uint(5), *results.created[0].TransactionID)
}
