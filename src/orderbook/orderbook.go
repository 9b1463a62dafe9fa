package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/connectors"
	"tradecore/src/model"
	"tradecore/src/pricecache"
	"tradecore/src/retry"
)

// ErrNoPosition is returned by position-mutating operations when the
// transaction has no live position to act on.
var ErrNoPosition = errors.New("transaction has no open position")

// orderStore is the slice of OrderRepository the order book needs.
type orderStore interface {
	Create(ctx context.Context, order *model.Order) error
	Merge(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id uint) (*model.Order, error)
	FindByTransactionID(ctx context.Context, transactionID uint) ([]model.Order, error)
	FindTracked(ctx context.Context) ([]model.Order, error)
}

// transactionStore is the slice of TransactionRepository the order book needs.
type transactionStore interface {
	Create(ctx context.Context, transaction *model.Transaction) error
	FindByID(ctx context.Context, id uint) (*model.Transaction, error)
	Save(ctx context.Context, transaction *model.Transaction) error
}

// auditRecorder receives every order state change for the append-only log.
type auditRecorder interface {
	Record(order *model.Order, reason string)
}

// OrderBook owns the order and transaction state machine for one broker
// account: it submits entry orders, holds dependent TP/SL orders until
// their parent fills, polls the broker for state changes and re-derives
// transaction status from the orders after every change.
type OrderBook struct {
	account      connectors.Account
	orders       orderStore
	transactions transactionStore
	audit        auditRecorder
	prices       *pricecache.Cache

	// txLocks serializes mutations per transaction so a reconcile pass and
	// a rule action never interleave on the same position.
	mu      sync.Mutex
	txLocks map[uint]*sync.Mutex

	now func() time.Time
}

// NewOrderBook wires an order book over a broker account and its stores.
// The price cache is owned by the book, one per account.
func NewOrderBook(config Config, account connectors.Account, orders orderStore, transactions transactionStore, audit auditRecorder) *OrderBook {
	book := &OrderBook{
		account:      account,
		orders:       orders,
		transactions: transactions,
		audit:        audit,
		txLocks:      map[uint]*sync.Mutex{},
		now:          time.Now,
	}
	book.prices = pricecache.New(config.PriceCacheTTL, func(ctx context.Context, symbol, priceType string) (decimal.Decimal, error) {
		var price decimal.Decimal
		err := retry.Do(ctx, "orderbook.fetch_price", func() error {
			var ferr error
			price, ferr = account.GetPrice(ctx, symbol, priceType)
			return ferr
		})
		return price, err
	})
	return book
}

// Prices exposes the book's price cache, e.g. for a streaming feed to
// push quotes into.
func (b *OrderBook) Prices() *pricecache.Cache {
	return b.prices
}

// GetPrice returns a quote through the per-account cache.
func (b *OrderBook) GetPrice(ctx context.Context, symbol, priceType string) (decimal.Decimal, error) {
	return b.prices.GetPrice(ctx, symbol, priceType)
}

func (b *OrderBook) lockTransaction(id uint) func() {
	b.mu.Lock()
	lock, ok := b.txLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		b.txLocks[id] = lock
	}
	b.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// OpenPosition creates the transaction (when new) and submits its entry
// order to the broker. A broker reject marks the order rejected and is
// returned to the caller so the initiating action records the failure.
func (b *OrderBook) OpenPosition(ctx context.Context, transaction *model.Transaction, order *model.Order) error {
	if transaction.ID == 0 {
		transaction.Status = model.TransactionStatusWaiting
		if err := b.transactions.Create(ctx, transaction); err != nil {
			return err
		}
	}

	unlock := b.lockTransaction(transaction.ID)
	defer unlock()

	order.TransactionID = transaction.ID
	order.Symbol = transaction.Symbol
	order.Status = model.OrderStatusPending
	if err := b.orders.Create(ctx, order); err != nil {
		return err
	}

	if err := b.submit(ctx, order); err != nil {
		b.refreshTransaction(ctx, transaction.ID)
		return err
	}

	b.refreshTransaction(ctx, transaction.ID)
	return nil
}

// submit sends one order to the broker and records the result. Busy
// broker errors are retried internally; rejects are terminal.
func (b *OrderBook) submit(ctx context.Context, order *model.Order) error {
	var brokerRef string
	err := retry.Do(ctx, "orderbook.submit", func() error {
		var serr error
		brokerRef, serr = b.account.SubmitOrder(ctx, order)
		if errors.Is(serr, connectors.ErrOrderRejected) {
			// Terminal, do not burn retry attempts on it.
			return serr
		}
		if serr != nil {
			return fmt.Errorf("%w: %v", retry.ErrBusy, serr)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, connectors.ErrOrderRejected) {
			order.Status = model.OrderStatusRejected
		} else {
			order.Status = model.OrderStatusErrored
		}
		if merr := b.orders.Merge(ctx, order); merr != nil {
			logger.WithFields(map[string]interface{}{
				"order_id": order.ID,
			}).WithError(merr).Error("failed to persist order submit failure")
		}
		b.audit.Record(order, fmt.Sprintf("submit failed: %v", err))
		return err
	}

	order.BrokerRef = &brokerRef
	order.Status = model.OrderStatusOpen
	if err := b.orders.Merge(ctx, order); err != nil {
		return err
	}
	b.audit.Record(order, "submitted to broker")

	logger.WithFields(map[string]interface{}{
		"order_id":   order.ID,
		"symbol":     order.Symbol,
		"side":       order.Side,
		"kind":       order.Kind,
		"broker_ref": brokerRef,
	}).Info("order submitted")
	return nil
}

// CancelOrder cancels one order. Broker-side orders are canceled at the
// broker first; waiting_trigger children are only local and flip directly.
func (b *OrderBook) CancelOrder(ctx context.Context, orderID uint) error {
	order, err := b.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("order %d not found", orderID)
	}

	unlock := b.lockTransaction(order.TransactionID)
	defer unlock()

	if order.IsTerminal() {
		return nil
	}

	if order.Status != model.OrderStatusWaitingTrigger && order.BrokerRef != nil {
		if err := b.account.CancelOrder(ctx, *order.BrokerRef); err != nil {
			return err
		}
	}

	order.Status = model.OrderStatusCanceled
	if err := b.orders.Merge(ctx, order); err != nil {
		return err
	}
	b.audit.Record(order, "canceled")

	b.refreshTransaction(ctx, order.TransactionID)
	return nil
}

// UpsertTakeProfit creates or re-prices the dependent take-profit order of
// the transaction's entry. The price is always recomputed from the parent
// fill price, not from the current market.
func (b *OrderBook) UpsertTakeProfit(ctx context.Context, transactionID uint, percent decimal.Decimal) (*model.Order, error) {
	return b.upsertDependent(ctx, transactionID, model.MetaTakeProfitPercent, percent)
}

// UpsertStopLoss creates or re-prices the dependent stop-loss order.
func (b *OrderBook) UpsertStopLoss(ctx context.Context, transactionID uint, percent decimal.Decimal) (*model.Order, error) {
	return b.upsertDependent(ctx, transactionID, model.MetaStopLossPercent, percent)
}

// ClosePosition flattens the transaction: cancels every working order and
// submits a market order for the net filled quantity. The transaction
// moves to closing until the closing fill is reconciled.
func (b *OrderBook) ClosePosition(ctx context.Context, transactionID uint) (*model.Order, error) {
	unlock := b.lockTransaction(transactionID)
	defer unlock()

	transaction, orders, err := b.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	net := decimal.Zero
	var entry *model.Order
	for i := range orders {
		o := &orders[i]
		if o.Status == model.OrderStatusFilled {
			net = net.Add(signedQuantity(*o))
			if o.IsEntry() && entry == nil {
				entry = o
			}
		}
	}
	if net.Abs().LessThanOrEqual(quantityTolerance) || entry == nil {
		return nil, ErrNoPosition
	}

	for i := range orders {
		o := &orders[i]
		if o.IsTerminal() {
			continue
		}
		if o.Status != model.OrderStatusWaitingTrigger && o.BrokerRef != nil {
			if err := b.account.CancelOrder(ctx, *o.BrokerRef); err != nil {
				return nil, err
			}
		}
		o.Status = model.OrderStatusCanceled
		if err := b.orders.Merge(ctx, o); err != nil {
			return nil, err
		}
		b.audit.Record(o, "canceled before position close")
	}

	side := model.OrderSideSell
	if net.IsNegative() {
		side = model.OrderSideBuy
	}
	closer := &model.Order{
		TransactionID: transactionID,
		ParentOrderID: &entry.ID,
		Symbol:        transaction.Symbol,
		Side:          side,
		Kind:          model.OrderKindMarket,
		Quantity:      net.Abs(),
		Origin:        model.OrderOriginAutomatic,
		Status:        model.OrderStatusPending,
	}
	if err := b.orders.Create(ctx, closer); err != nil {
		return nil, err
	}
	if err := b.submit(ctx, closer); err != nil {
		b.refreshTransaction(ctx, transactionID)
		return closer, err
	}

	transaction.Status = model.TransactionStatusClosing
	if err := b.transactions.Save(ctx, transaction); err != nil {
		return closer, err
	}

	logger.WithFields(map[string]interface{}{
		"transaction_id": transactionID,
		"quantity":       net.String(),
		"side":           side,
	}).Info("position close submitted")
	return closer, nil
}

// AdjustQuantity resizes the working entry order of a transaction. The
// broker order is canceled and resubmitted at the new size; filled
// quantity cannot be adjusted.
func (b *OrderBook) AdjustQuantity(ctx context.Context, transactionID uint, quantity decimal.Decimal) (*model.Order, error) {
	unlock := b.lockTransaction(transactionID)
	defer unlock()

	_, orders, err := b.loadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	var working *model.Order
	for i := range orders {
		o := &orders[i]
		if o.IsEntry() && !o.IsTerminal() && o.Status != model.OrderStatusWaitingTrigger {
			working = o
			break
		}
	}
	if working == nil {
		return nil, ErrNoPosition
	}

	if working.BrokerRef != nil {
		if err := b.account.CancelOrder(ctx, *working.BrokerRef); err != nil {
			return nil, err
		}
	}

	working.Quantity = quantity
	working.BrokerRef = nil
	if err := b.submit(ctx, working); err != nil {
		b.refreshTransaction(ctx, transactionID)
		return working, err
	}
	b.audit.Record(working, fmt.Sprintf("quantity adjusted to %s", quantity))

	b.refreshTransaction(ctx, transactionID)
	return working, nil
}

// loadTransaction fetches the transaction and its orders fresh from the
// store. Mutations always start from this snapshot, never from an
// instance a caller loaded earlier.
func (b *OrderBook) loadTransaction(ctx context.Context, transactionID uint) (*model.Transaction, []model.Order, error) {
	transaction, err := b.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if transaction == nil {
		return nil, nil, fmt.Errorf("transaction %d not found", transactionID)
	}

	orders, err := b.orders.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	return transaction, orders, nil
}

// refreshTransaction re-derives the transaction's status, quantity and
// open/close prices from its orders. Caller holds the transaction lock.
func (b *OrderBook) refreshTransaction(ctx context.Context, transactionID uint) {
	transaction, orders, err := b.loadTransaction(ctx, transactionID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"transaction_id": transactionID,
		}).WithError(err).Error("failed to reload transaction for refresh")
		return
	}

	out := deriveOutcome(transaction.Status, orders, b.now())
	changed := out.status != transaction.Status

	transaction.Status = out.status
	transaction.Quantity = out.quantity
	if out.openPrice != nil {
		transaction.OpenPrice = out.openPrice
		transaction.OpenDate = out.openDate
	}
	if out.closePrice != nil {
		transaction.ClosePrice = out.closePrice
	}
	if out.status == model.TransactionStatusClosed && transaction.CloseDate == nil {
		transaction.CloseDate = out.closeDate
	}

	if err := b.transactions.Save(ctx, transaction); err != nil {
		logger.WithFields(map[string]interface{}{
			"transaction_id": transactionID,
		}).WithError(err).Error("failed to save refreshed transaction")
		return
	}

	if changed {
		logger.WithFields(map[string]interface{}{
			"transaction_id": transactionID,
			"status":         out.status,
			"quantity":       out.quantity.String(),
		}).Info("transaction status re-derived")
	}
}
