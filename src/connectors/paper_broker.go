package connectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

type paperOrder struct {
	symbol    string
	side      string
	kind      string
	quantity  decimal.Decimal
	status    string
	fillPrice *decimal.Decimal
}

// PaperBroker is an in-process Account implementation. Market orders fill
// immediately at the configured quote; limit and stop orders stay open
// until FillOrder or RejectNext is used. Tests and local runs use it in
// place of the REST broker.
type PaperBroker struct {
	mu        sync.Mutex
	orders    map[string]*paperOrder
	quotes    map[string]brokerSpread
	rejectMsg string

	// Submitted records every broker ref in submission order, letting
	// tests assert what actually reached the broker.
	Submitted []string
}

type brokerSpread struct {
	bid decimal.Decimal
	ask decimal.Decimal
}

func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		orders: map[string]*paperOrder{},
		quotes: map[string]brokerSpread{},
	}
}

// SetQuote sets the bid/ask used for market fills and price queries.
func (p *PaperBroker) SetQuote(symbol string, bid, ask decimal.Decimal) {
	p.mu.Lock()
	p.quotes[symbol] = brokerSpread{bid: bid, ask: ask}
	p.mu.Unlock()
}

// RejectNext makes the next SubmitOrder fail with a broker reject.
func (p *PaperBroker) RejectNext(msg string) {
	p.mu.Lock()
	p.rejectMsg = msg
	p.mu.Unlock()
}

func (p *PaperBroker) SubmitOrder(_ context.Context, order *model.Order) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rejectMsg != "" {
		msg := p.rejectMsg
		p.rejectMsg = ""
		return "", fmt.Errorf("%w: %s", ErrOrderRejected, msg)
	}

	ref := "paper-" + uuid.NewString()
	po := &paperOrder{
		symbol:   order.Symbol,
		side:     order.Side,
		kind:     order.Kind,
		quantity: order.Quantity,
		status:   model.OrderStatusOpen,
	}

	if order.Kind == model.OrderKindMarket {
		spread, ok := p.quotes[order.Symbol]
		if !ok {
			return "", fmt.Errorf("%w: no quote for %s", ErrOrderRejected, order.Symbol)
		}
		price := spread.ask
		if order.Side == model.OrderSideSell {
			price = spread.bid
		}
		po.status = model.OrderStatusFilled
		po.fillPrice = &price
	}

	p.orders[ref] = po
	p.Submitted = append(p.Submitted, ref)

	logger.WithFields(map[string]interface{}{
		"broker_ref": ref,
		"symbol":     order.Symbol,
		"status":     po.status,
	}).Debug("paper order accepted")

	return ref, nil
}

func (p *PaperBroker) CancelOrder(_ context.Context, brokerRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[brokerRef]
	if !ok {
		return fmt.Errorf("unknown order %s", brokerRef)
	}
	if po.status == model.OrderStatusFilled {
		return fmt.Errorf("order %s already filled", brokerRef)
	}
	po.status = model.OrderStatusCanceled
	return nil
}

func (p *PaperBroker) GetOrderStatus(_ context.Context, brokerRef string) (OrderStatusUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[brokerRef]
	if !ok {
		return OrderStatusUpdate{}, fmt.Errorf("unknown order %s", brokerRef)
	}
	return OrderStatusUpdate{Status: po.status, FillPrice: po.fillPrice}, nil
}

func (p *PaperBroker) GetPositions(_ context.Context) ([]PositionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	net := map[string]decimal.Decimal{}
	for _, po := range p.orders {
		if po.status != model.OrderStatusFilled {
			continue
		}
		qty := po.quantity
		if po.side == model.OrderSideSell {
			qty = qty.Neg()
		}
		net[po.symbol] = net[po.symbol].Add(qty)
	}

	positions := make([]PositionInfo, 0, len(net))
	for symbol, qty := range net {
		if qty.IsZero() {
			continue
		}
		positions = append(positions, PositionInfo{Symbol: symbol, Quantity: qty})
	}
	return positions, nil
}

func (p *PaperBroker) GetPrice(_ context.Context, symbol string, priceType string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	spread, ok := p.quotes[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote for %s", symbol)
	}
	switch priceType {
	case model.PriceTypeBid:
		return spread.bid, nil
	case model.PriceTypeAsk:
		return spread.ask, nil
	case model.PriceTypeMid:
		return spread.bid.Add(spread.ask).Div(decimal.NewFromInt(2)), nil
	}
	return decimal.Zero, fmt.Errorf("unknown price type %q", priceType)
}

// FillOrder force-fills an open order at the given price.
func (p *PaperBroker) FillOrder(brokerRef string, price decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[brokerRef]
	if !ok {
		return fmt.Errorf("unknown order %s", brokerRef)
	}
	po.status = model.OrderStatusFilled
	po.fillPrice = &price
	return nil
}

// ExpireOrder force-expires an open order.
func (p *PaperBroker) ExpireOrder(brokerRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[brokerRef]
	if !ok {
		return fmt.Errorf("unknown order %s", brokerRef)
	}
	po.status = model.OrderStatusExpired
	return nil
}

var _ Account = (*PaperBroker)(nil)
