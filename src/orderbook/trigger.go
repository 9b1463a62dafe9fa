package orderbook

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

var errParentNotFilled = errors.New("parent order not filled")

var oneHundred = decimal.NewFromInt(100)

// upsertDependent creates or re-prices the dependent TP/SL order keyed by
// metaKey on the transaction's entry order. New dependents start in
// waiting_trigger; they are submitted to the broker only once the parent
// fill is confirmed. Caller-visible prices are always derived from the
// parent fill price: percent in, price out.
func (b *OrderBook) upsertDependent(ctx context.Context, transactionID uint, metaKey string, percent decimal.Decimal) (*model.Order, error) {
	unlock := b.lockTransaction(transactionID)
	defer unlock()

	transaction, orders, err := b.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	parent := findEntry(orders)
	if parent == nil {
		return nil, ErrNoPosition
	}

	child := findDependent(orders, parent.ID, metaKey)
	if child == nil {
		child = &model.Order{
			TransactionID: transactionID,
			ParentOrderID: &parent.ID,
			Symbol:        transaction.Symbol,
			Side:          closingSide(parent.Side),
			Kind:          dependentKind(metaKey),
			Quantity:      dependentQuantity(parent),
			Origin:        model.OrderOriginAutomatic,
			Status:        model.OrderStatusWaitingTrigger,
		}
		child.SetMetaDecimal(metaKey, percent)
		if err := b.orders.Create(ctx, child); err != nil {
			return nil, err
		}
		b.audit.Record(child, fmt.Sprintf("dependent %s created at %s%%", metaKey, percent))
	} else {
		child.SetMetaDecimal(metaKey, percent)
	}

	// A still-waiting child just carries the new percent; its price is
	// computed at trigger time. An already-working child is re-priced at
	// the broker now.
	switch child.Status {
	case model.OrderStatusWaitingTrigger:
		if err := b.orders.Merge(ctx, child); err != nil {
			return nil, err
		}
		if err := b.triggerDependent(ctx, child, parent); err != nil && !errors.Is(err, errParentNotFilled) {
			return child, err
		}
		return child, nil
	case model.OrderStatusOpen, model.OrderStatusPartiallyFilled, model.OrderStatusPending:
		price, err := dependentPrice(child, parent, metaKey)
		if err != nil {
			return nil, err
		}
		applyDependentPrice(child, price)
		if child.BrokerRef != nil {
			if err := b.account.CancelOrder(ctx, *child.BrokerRef); err != nil {
				return nil, err
			}
			child.BrokerRef = nil
		}
		if err := b.submit(ctx, child); err != nil {
			return child, err
		}
		b.audit.Record(child, fmt.Sprintf("dependent %s re-priced to %s", metaKey, price))
		return child, nil
	default:
		return nil, fmt.Errorf("dependent order %d is terminal (%s)", child.ID, child.Status)
	}
}

// triggerDependent submits a waiting_trigger child once its parent fill is
// confirmed by the broker, not just recorded locally. Safe to call
// repeatedly; it no-ops until the parent is filled.
func (b *OrderBook) triggerDependent(ctx context.Context, child, parent *model.Order) error {
	if child.Status != model.OrderStatusWaitingTrigger {
		return nil
	}
	if parent.Status != model.OrderStatusFilled || parent.OpenPrice == nil {
		return errParentNotFilled
	}

	if parent.BrokerRef != nil {
		update, err := b.account.GetOrderStatus(ctx, *parent.BrokerRef)
		if err != nil {
			return err
		}
		if update.Status != model.OrderStatusFilled {
			logger.WithFields(map[string]interface{}{
				"parent_id":     parent.ID,
				"broker_status": update.Status,
			}).Warn("parent recorded filled locally but broker disagrees, holding trigger")
			return errParentNotFilled
		}
	}

	metaKey := dependentMetaKey(child)
	if _, ok := child.MetaDecimal(metaKey); !ok {
		// The order carries a price but no stored percent, e.g. it was
		// placed with an explicit target. Derive the percent once from that
		// price and the parent fill and keep it, so later re-pricing stays
		// fill-price relative.
		derived, ok := derivePercent(child, parent, metaKey)
		if !ok {
			return fmt.Errorf("dependent order %d has no %s and no price to derive it from", child.ID, metaKey)
		}
		child.SetMetaDecimal(metaKey, derived)
		if err := b.orders.Merge(ctx, child); err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"order_id": child.ID,
			"meta_key": metaKey,
			"percent":  derived.String(),
		}).Warn("dependent order had no stored percent, derived from its price")
	}

	price, err := dependentPrice(child, parent, metaKey)
	if err != nil {
		return err
	}
	applyDependentPrice(child, price)
	child.SetMetaDecimal(model.MetaParentFilledPrice, *parent.OpenPrice)
	child.Quantity = dependentQuantity(parent)

	if err := b.submit(ctx, child); err != nil {
		return err
	}
	b.audit.Record(child, fmt.Sprintf("triggered by parent fill at %s", parent.OpenPrice))

	logger.WithFields(map[string]interface{}{
		"order_id":  child.ID,
		"parent_id": parent.ID,
		"price":     price.String(),
	}).Info("dependent order triggered")
	return nil
}

// dependentPrice computes the child's working price from the parent fill
// price and the stored percent:
//
//	take profit: fill * (1 + pct/100) with the position, i.e. above a long
//	stop loss:   fill * (1 - pct/100) for a long, mirrored for a short
func dependentPrice(child, parent *model.Order, metaKey string) (decimal.Decimal, error) {
	percent, ok := child.MetaDecimal(metaKey)
	if !ok {
		return decimal.Zero, fmt.Errorf("dependent order %d has no %s", child.ID, metaKey)
	}

	reference := parent.OpenPrice
	if reference == nil {
		if stored, ok := child.MetaDecimal(model.MetaParentFilledPrice); ok {
			reference = &stored
		}
	}
	if reference == nil {
		return decimal.Zero, fmt.Errorf("dependent order %d has no parent fill price", child.ID)
	}

	offset := reference.Mul(percent).Div(oneHundred)
	long := parent.Side == model.OrderSideBuy
	profitSide := metaKey == model.MetaTakeProfitPercent

	if long == profitSide {
		return reference.Add(offset), nil
	}
	return reference.Sub(offset), nil
}

// derivePercent back-computes the percent a priced dependent order implies
// relative to the parent fill price.
func derivePercent(child, parent *model.Order, metaKey string) (decimal.Decimal, bool) {
	if parent.OpenPrice == nil || parent.OpenPrice.IsZero() {
		return decimal.Zero, false
	}
	price := child.LimitPrice
	if metaKey == model.MetaStopLossPercent {
		price = child.StopPrice
	}
	if price == nil {
		return decimal.Zero, false
	}
	return price.Sub(*parent.OpenPrice).Div(*parent.OpenPrice).Mul(oneHundred).Abs(), true
}

func applyDependentPrice(child *model.Order, price decimal.Decimal) {
	if child.Kind == model.OrderKindStop {
		child.StopPrice = &price
		child.LimitPrice = nil
		return
	}
	child.LimitPrice = &price
	child.StopPrice = nil
}

// findEntry returns the transaction's primary entry order: the filled one
// when present, otherwise the first non-terminal entry.
func findEntry(orders []model.Order) *model.Order {
	var working *model.Order
	for i := range orders {
		o := &orders[i]
		if !o.IsEntry() {
			continue
		}
		if o.Status == model.OrderStatusFilled {
			return o
		}
		if working == nil && !o.IsTerminal() {
			working = o
		}
	}
	return working
}

func findDependent(orders []model.Order, parentID uint, metaKey string) *model.Order {
	for i := range orders {
		o := &orders[i]
		if o.ParentOrderID == nil || *o.ParentOrderID != parentID {
			continue
		}
		if o.IsTerminal() {
			continue
		}
		if _, ok := o.Metadata[metaKey]; ok {
			return o
		}
		if o.Kind == dependentKind(metaKey) {
			return o
		}
	}
	return nil
}

func closingSide(entrySide string) string {
	if entrySide == model.OrderSideBuy {
		return model.OrderSideSell
	}
	return model.OrderSideBuy
}

func dependentKind(metaKey string) string {
	if metaKey == model.MetaStopLossPercent {
		return model.OrderKindStop
	}
	return model.OrderKindLimit
}

func dependentMetaKey(child *model.Order) string {
	if child.Kind == model.OrderKindStop {
		return model.MetaStopLossPercent
	}
	return model.MetaTakeProfitPercent
}

// dependentQuantity covers the parent's filled quantity, falling back to
// the ordered quantity while the parent is still working.
func dependentQuantity(parent *model.Order) decimal.Decimal {
	return parent.Quantity
}
