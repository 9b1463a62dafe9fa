package ruleengine

import (
	"context"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

// positionBook is the slice of OrderBook the engine drives.
type positionBook interface {
	OpenPosition(ctx context.Context, transaction *model.Transaction, order *model.Order) error
	UpsertTakeProfit(ctx context.Context, transactionID uint, percent decimal.Decimal) (*model.Order, error)
	UpsertStopLoss(ctx context.Context, transactionID uint, percent decimal.Decimal) (*model.Order, error)
	ClosePosition(ctx context.Context, transactionID uint) (*model.Order, error)
	AdjustQuantity(ctx context.Context, transactionID uint, quantity decimal.Decimal) (*model.Order, error)
	GetPrice(ctx context.Context, symbol, priceType string) (decimal.Decimal, error)
}

type ruleStore interface {
	FindEnabled(ctx context.Context, expertID, useCase string) ([]model.Rule, error)
}

type recommendationStore interface {
	FindPendingByExpert(ctx context.Context, expertID string) ([]model.Recommendation, error)
	MarkProcessed(ctx context.Context, id uint) error
}

type resultStore interface {
	Create(ctx context.Context, result *model.ActionResult) error
}

type transactionFinder interface {
	FindActiveByExpertAndSymbol(ctx context.Context, expertID, symbol string) (*model.Transaction, error)
}

// Engine evaluates data-driven rules against expert recommendations and
// executes the resulting actions through the order book. Every executed
// action leaves an ActionResult chained to its recommendation; the engine
// holds no state between calls.
type Engine struct {
	book            positionBook
	rules           ruleStore
	recommendations recommendationStore
	results         resultStore
	transactions    transactionFinder
}

func NewEngine(book positionBook, rules ruleStore, recommendations recommendationStore, results resultStore, transactions transactionFinder) *Engine {
	return &Engine{
		book:            book,
		rules:           rules,
		recommendations: recommendations,
		results:         results,
		transactions:    transactions,
	}
}

// ProcessRecommendations drains the expert's pending recommendations,
// oldest first. Each one is evaluated against the rules for its use case
// and marked processed regardless of action outcome: failures live in
// ActionResults, not in the recommendation queue.
func (e *Engine) ProcessRecommendations(ctx context.Context, expertID string) error {
	pending, err := e.recommendations.FindPendingByExpert(ctx, expertID)
	if err != nil {
		return err
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		recommendation := &pending[i]

		if err := e.processOne(ctx, recommendation); err != nil {
			logger.WithFields(map[string]interface{}{
				"recommendation_id": recommendation.ID,
				"expert":            expertID,
				"symbol":            recommendation.Symbol,
			}).WithError(err).Error("failed to process recommendation")
			continue
		}

		if err := e.recommendations.MarkProcessed(ctx, recommendation.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processOne(ctx context.Context, recommendation *model.Recommendation) error {
	if recommendation.Action == model.RecommendationActionHold {
		logger.WithFields(map[string]interface{}{
			"recommendation_id": recommendation.ID,
			"symbol":            recommendation.Symbol,
		}).Debug("hold recommendation, nothing to do")
		return nil
	}

	transaction, err := e.transactions.FindActiveByExpertAndSymbol(ctx, recommendation.ExpertID, recommendation.Symbol)
	if err != nil {
		return err
	}

	useCase := model.UseCaseEnterMarket
	if transaction != nil {
		useCase = model.UseCaseOpenPositions
	}

	price, err := e.book.GetPrice(ctx, recommendation.Symbol, model.PriceTypeMid)
	if err != nil {
		// No market data means no evaluation; record the failure on the
		// audit chain and let the recommendation complete.
		return e.recordFailure(ctx, recommendation, transaction, "evaluate", err)
	}

	snapshot := Snapshot{
		Recommendation: recommendation,
		Transaction:    transaction,
		CurrentPrice:   price,
	}

	actions, err := e.planActions(ctx, recommendation, transaction, snapshot, useCase)
	if err != nil {
		return err
	}

	for _, action := range actions {
		var result *model.ActionResult
		result, transaction, err = e.Execute(ctx, action, recommendation, transaction)
		if err != nil {
			return err
		}
		if !result.Success {
			logger.WithFields(map[string]interface{}{
				"recommendation_id": recommendation.ID,
				"action":            action.Type,
				"message":           result.Message,
			}).Warn("action execution failed")
		}
	}
	return nil
}

// planActions turns one recommendation into the ordered action list. A
// CLOSE recommendation against a live position bypasses the ruleset: the
// expert already decided, the engine only records and executes it.
func (e *Engine) planActions(ctx context.Context, recommendation *model.Recommendation, transaction *model.Transaction, snapshot Snapshot, useCase string) ([]Action, error) {
	if recommendation.Action == model.RecommendationActionClose {
		if transaction == nil {
			logger.WithFields(map[string]interface{}{
				"recommendation_id": recommendation.ID,
				"symbol":            recommendation.Symbol,
			}).Warn("close recommendation without an active transaction")
			return nil, nil
		}
		return []Action{{
			Type:  model.ActionClosePosition,
			Trace: map[string]any{"source": "close_recommendation"},
		}}, nil
	}

	rules, err := e.rules.FindEnabled(ctx, recommendation.ExpertID, useCase)
	if err != nil {
		return nil, err
	}

	actions := Evaluate(rules, snapshot)
	logger.WithFields(map[string]interface{}{
		"recommendation_id": recommendation.ID,
		"use_case":          useCase,
		"rules":             len(rules),
		"actions":           len(actions),
	}).Info("recommendation evaluated")
	return actions, nil
}

func (e *Engine) recordFailure(ctx context.Context, recommendation *model.Recommendation, transaction *model.Transaction, actionType string, cause error) error {
	result, err := model.NewActionResult(recommendation.ID, actionType)
	if err != nil {
		return err
	}
	result.Success = false
	result.Message = cause.Error()
	if transaction != nil {
		result.TransactionID = &transaction.ID
	}
	return e.results.Create(ctx, result)
}
