package ruleengine

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

// Execute runs one action through the order book and records an
// ActionResult chained to the recommendation, success or not. SubmitOrder
// may create a transaction; the (possibly new) transaction is returned so
// later actions in the same plan act on it. Only storage failures surface
// as errors — a failed broker operation is a recorded result.
func (e *Engine) Execute(ctx context.Context, action Action, recommendation *model.Recommendation, transaction *model.Transaction) (*model.ActionResult, *model.Transaction, error) {
	result, err := model.NewActionResult(recommendation.ID, action.Type)
	if err != nil {
		return nil, transaction, err
	}
	for k, v := range action.Trace {
		result.Trace[k] = v
	}
	if transaction != nil {
		result.TransactionID = &transaction.ID
	}

	order, transaction, execErr := e.apply(ctx, action, recommendation, transaction)
	if execErr != nil {
		result.Success = false
		result.Message = execErr.Error()
	} else {
		result.Success = true
		result.Message = fmt.Sprintf("%s executed", action.Type)
	}
	if transaction != nil {
		result.TransactionID = &transaction.ID
	}
	if order != nil && order.ID != 0 {
		result.OrderID = &order.ID
	}

	if err := e.results.Create(ctx, result); err != nil {
		return nil, transaction, err
	}

	logger.WithFields(map[string]interface{}{
		"recommendation_id": recommendation.ID,
		"action":            action.Type,
		"success":           result.Success,
	}).Info("action executed")
	return result, transaction, nil
}

// apply dispatches one action to its order book operation.
func (e *Engine) apply(ctx context.Context, action Action, recommendation *model.Recommendation, transaction *model.Transaction) (*model.Order, *model.Transaction, error) {
	switch action.Type {
	case model.ActionAdjustTakeProfit:
		if action.Percent == nil {
			return nil, transaction, fmt.Errorf("adjust_take_profit without a percent")
		}
		if transaction == nil {
			return nil, transaction, fmt.Errorf("adjust_take_profit without an active transaction")
		}
		order, err := e.book.UpsertTakeProfit(ctx, transaction.ID, *action.Percent)
		return order, transaction, err

	case model.ActionAdjustStopLoss:
		if action.Percent == nil {
			return nil, transaction, fmt.Errorf("adjust_stop_loss without a percent")
		}
		if transaction == nil {
			return nil, transaction, fmt.Errorf("adjust_stop_loss without an active transaction")
		}
		order, err := e.book.UpsertStopLoss(ctx, transaction.ID, *action.Percent)
		return order, transaction, err

	case model.ActionClosePosition:
		if transaction == nil {
			return nil, transaction, fmt.Errorf("close_position without an active transaction")
		}
		if transaction.Status != model.TransactionStatusOpened {
			return nil, transaction, fmt.Errorf("close_position on %s transaction %d", transaction.Status, transaction.ID)
		}
		order, err := e.book.ClosePosition(ctx, transaction.ID)
		return order, transaction, err

	case model.ActionAdjustQuantity:
		if action.Quantity == nil {
			return nil, transaction, fmt.Errorf("adjust_quantity without a quantity")
		}
		if transaction == nil {
			return nil, transaction, fmt.Errorf("adjust_quantity without an active transaction")
		}
		order, err := e.book.AdjustQuantity(ctx, transaction.ID, *action.Quantity)
		return order, transaction, err

	case model.ActionSubmitOrder:
		return e.submitOrder(ctx, action, recommendation, transaction)
	}

	return nil, transaction, fmt.Errorf("unknown action type %q", action.Type)
}

// submitOrder opens an entry order, creating the transaction when the
// recommendation is entering the market. Side defaults to the
// recommendation's direction, kind to MARKET; a LIMIT entry uses the
// recommendation's reference price.
func (e *Engine) submitOrder(ctx context.Context, action Action, recommendation *model.Recommendation, transaction *model.Transaction) (*model.Order, *model.Transaction, error) {
	if action.Quantity == nil || action.Quantity.IsZero() {
		return nil, transaction, fmt.Errorf("submit_order without a quantity")
	}

	side := action.Side
	if side == "" {
		switch recommendation.Action {
		case model.RecommendationActionBuy:
			side = model.OrderSideBuy
		case model.RecommendationActionSell:
			side = model.OrderSideSell
		default:
			return nil, transaction, fmt.Errorf("submit_order cannot derive a side from %q", recommendation.Action)
		}
	}

	kind := action.Kind
	if kind == "" {
		kind = model.OrderKindMarket
	}

	if transaction == nil {
		transaction = &model.Transaction{
			ExpertID: recommendation.ExpertID,
			Symbol:   recommendation.Symbol,
		}
	}

	order := &model.Order{
		Side:             side,
		Kind:             kind,
		Quantity:         *action.Quantity,
		Origin:           model.OrderOriginAutomatic,
		RecommendationID: &recommendation.ID,
	}
	if kind == model.OrderKindLimit && !recommendation.ReferencePrice.IsZero() {
		price := recommendation.ReferencePrice
		order.LimitPrice = &price
	}

	err := e.book.OpenPosition(ctx, transaction, order)
	return order, transaction, err
}
