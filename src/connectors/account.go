package connectors

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"tradecore/src/model"
)

// ErrOrderRejected marks broker rejects (insufficient quantity, invalid
// price). These are terminal for the order and must never be silently
// retried with the same parameters.
var ErrOrderRejected = errors.New("order rejected by broker")

// OrderStatusUpdate is the broker's view of one order.
type OrderStatusUpdate struct {
	Status    string
	FillPrice *decimal.Decimal
}

// PositionInfo is one open position reported by the broker.
type PositionInfo struct {
	Symbol   string
	Quantity decimal.Decimal
}

// Account is the broker capability the order book depends on. It hides the
// broker wire format: implementations exist for the REST broker API and
// for the in-process paper broker.
type Account interface {
	SubmitOrder(ctx context.Context, order *model.Order) (string, error)
	CancelOrder(ctx context.Context, brokerRef string) error
	GetOrderStatus(ctx context.Context, brokerRef string) (OrderStatusUpdate, error)
	GetPositions(ctx context.Context) ([]PositionInfo, error)
	GetPrice(ctx context.Context, symbol string, priceType string) (decimal.Decimal, error)
}
