package orderbook

import (
	"context"
	"fmt"
	"sync"

	"tradecore/src/model"
)

// memStore backs OrderBook tests with an in-memory order and transaction
// store, mirroring the repository merge-by-primary-key semantics.
type memStore struct {
	mu           sync.Mutex
	orders       map[uint]*model.Order
	transactions map[uint]*model.Transaction
	nextOrderID  uint
	nextTxID     uint
}

func newMemStore() *memStore {
	return &memStore{
		orders:       map[uint]*model.Order{},
		transactions: map[uint]*model.Transaction{},
	}
}

func (m *memStore) createOrder(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrderID++
	order.ID = m.nextOrderID
	clone := *order
	m.orders[order.ID] = &clone
	return nil
}

func (m *memStore) createTransaction(_ context.Context, transaction *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxID++
	transaction.ID = m.nextTxID
	clone := *transaction
	m.transactions[transaction.ID] = &clone
	return nil
}

func (m *memStore) Merge(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracked, ok := m.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %d not tracked", order.ID)
	}
	tracked.Status = order.Status
	tracked.LimitPrice = order.LimitPrice
	tracked.StopPrice = order.StopPrice
	tracked.OpenPrice = order.OpenPrice
	tracked.BrokerRef = order.BrokerRef
	tracked.Metadata = order.Metadata
	tracked.FilledAt = order.FilledAt
	tracked.Quantity = order.Quantity
	*order = *tracked
	return nil
}

func (m *memStore) FindByID(_ context.Context, id uint) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	clone := *order
	return &clone, nil
}

func (m *memStore) FindByTransactionID(_ context.Context, transactionID uint) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for id := uint(1); id <= m.nextOrderID; id++ {
		if o, ok := m.orders[id]; ok && o.TransactionID == transactionID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) FindTracked(_ context.Context) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for id := uint(1); id <= m.nextOrderID; id++ {
		o, ok := m.orders[id]
		if !ok {
			continue
		}
		switch o.Status {
		case model.OrderStatusPending, model.OrderStatusOpen,
			model.OrderStatusPartiallyFilled, model.OrderStatusWaitingTrigger:
			out = append(out, *o)
		}
	}
	return out, nil
}

type memOrderStore struct{ *memStore }

func (m memOrderStore) Create(ctx context.Context, order *model.Order) error {
	return m.createOrder(ctx, order)
}

type memTransactionStore struct{ *memStore }

func (m memTransactionStore) Create(ctx context.Context, transaction *model.Transaction) error {
	return m.createTransaction(ctx, transaction)
}

func (m memTransactionStore) FindByID(_ context.Context, id uint) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	transaction, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	clone := *transaction
	return &clone, nil
}

func (m memTransactionStore) Save(_ context.Context, transaction *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracked, ok := m.transactions[transaction.ID]
	if !ok {
		return fmt.Errorf("transaction %d not tracked", transaction.ID)
	}
	tracked.Status = transaction.Status
	tracked.Quantity = transaction.Quantity
	tracked.OpenPrice = transaction.OpenPrice
	tracked.ClosePrice = transaction.ClosePrice
	tracked.OpenDate = transaction.OpenDate
	tracked.CloseDate = transaction.CloseDate
	tracked.TakeProfit = transaction.TakeProfit
	tracked.StopLoss = transaction.StopLoss
	return nil
}

// noopAudit discards audit entries in tests that do not assert on them.
type noopAudit struct{}

func (noopAudit) Record(*model.Order, string) {}

// captureAudit records audit reasons for assertions.
type captureAudit struct {
	mu      sync.Mutex
	reasons []string
}

func (c *captureAudit) Record(_ *model.Order, reason string) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}
