package orderbook

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

// Reconcile polls the broker for every order that can still change state,
// applies fills, fires dependent orders whose parent filled and re-derives
// each touched transaction. It is the only place fills enter the system.
func (b *OrderBook) Reconcile(ctx context.Context) error {
	tracked, err := b.orders.FindTracked(ctx)
	if err != nil {
		return err
	}

	seen := map[uint]bool{}
	var transactionIDs []uint
	for _, o := range tracked {
		if !seen[o.TransactionID] {
			seen[o.TransactionID] = true
			transactionIDs = append(transactionIDs, o.TransactionID)
		}
	}

	for _, id := range transactionIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.ReconcileTransaction(ctx, id)
	}
	return nil
}

// ReconcileTransaction runs one reconcile pass over a single transaction.
func (b *OrderBook) ReconcileTransaction(ctx context.Context, transactionID uint) {
	unlock := b.lockTransaction(transactionID)
	defer unlock()

	orders, err := b.orders.FindByTransactionID(ctx, transactionID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"transaction_id": transactionID,
		}).WithError(err).Error("failed to load orders for reconcile")
		return
	}

	for i := range orders {
		b.pollOrder(ctx, &orders[i])
	}

	b.settleWaitingChildren(ctx, orders)
	b.refreshTransaction(ctx, transactionID)
}

// pollOrder pulls the broker's view of one working order and applies it.
func (b *OrderBook) pollOrder(ctx context.Context, order *model.Order) {
	if order.IsTerminal() || order.Status == model.OrderStatusWaitingTrigger || order.BrokerRef == nil {
		return
	}

	update, err := b.account.GetOrderStatus(ctx, *order.BrokerRef)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"order_id":   order.ID,
			"broker_ref": *order.BrokerRef,
		}).WithError(err).Warn("broker status poll failed, keeping local state")
		return
	}
	if update.Status == order.Status {
		return
	}

	previous := order.Status
	order.Status = update.Status
	if update.Status == model.OrderStatusFilled {
		if update.FillPrice != nil {
			order.OpenPrice = update.FillPrice
		}
		now := b.now()
		order.FilledAt = &now
	}

	if err := b.orders.Merge(ctx, order); err != nil {
		logger.WithFields(map[string]interface{}{
			"order_id": order.ID,
		}).WithError(err).Error("failed to persist polled order state")
		// Keep the stale local copy so the trigger pass does not act on an
		// unpersisted fill.
		order.Status = previous
		return
	}
	b.audit.Record(order, "broker status "+previous+" -> "+update.Status)

	logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"from":     previous,
		"to":       update.Status,
	}).Info("order state updated from broker")
}

// settleWaitingChildren fires waiting_trigger children whose parent filled
// and cancels those whose parent ended without executing.
func (b *OrderBook) settleWaitingChildren(ctx context.Context, orders []model.Order) {
	byID := map[uint]*model.Order{}
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
	}

	for i := range orders {
		child := &orders[i]
		if child.Status != model.OrderStatusWaitingTrigger || child.ParentOrderID == nil {
			continue
		}
		parent, ok := byID[*child.ParentOrderID]
		if !ok {
			continue
		}

		if parent.IsTerminalUnexecuted() {
			child.Status = model.OrderStatusCanceled
			if err := b.orders.Merge(ctx, child); err != nil {
				logger.WithFields(map[string]interface{}{
					"order_id": child.ID,
				}).WithError(err).Error("failed to cancel orphaned dependent order")
				continue
			}
			b.audit.Record(child, "parent ended without fill")
			continue
		}

		if err := b.triggerDependent(ctx, child, parent); err != nil && !errors.Is(err, errParentNotFilled) {
			logger.WithFields(map[string]interface{}{
				"order_id":  child.ID,
				"parent_id": parent.ID,
			}).WithError(err).Error("failed to trigger dependent order")
		}
	}
}
