package connectors

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecore/src/model"
)

func TestPaperBrokerMarketOrderFillsAtQuote(t *testing.T) {
	broker := NewPaperBroker()
	broker.SetQuote("BTC_USDT", decimal.NewFromInt(99), decimal.NewFromInt(101))

	ref, err := broker.SubmitOrder(context.Background(), &model.Order{
		Symbol:   "BTC_USDT",
		Side:     model.OrderSideBuy,
		Kind:     model.OrderKindMarket,
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	status, err := broker.GetOrderStatus(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, status.Status)
	require.NotNil(t, status.FillPrice)
	require.True(t, status.FillPrice.Equal(decimal.NewFromInt(101)), "buy fills at ask")
}

func TestPaperBrokerSellFillsAtBid(t *testing.T) {
	broker := NewPaperBroker()
	broker.SetQuote("BTC_USDT", decimal.NewFromInt(99), decimal.NewFromInt(101))

	ref, err := broker.SubmitOrder(context.Background(), &model.Order{
		Symbol:   "BTC_USDT",
		Side:     model.OrderSideSell,
		Kind:     model.OrderKindMarket,
		Quantity: decimal.NewFromInt(2),
	})
	require.NoError(t, err)

	status, err := broker.GetOrderStatus(context.Background(), ref)
	require.NoError(t, err)
	require.True(t, status.FillPrice.Equal(decimal.NewFromInt(99)))
}

func TestPaperBrokerRejectNext(t *testing.T) {
	broker := NewPaperBroker()
	broker.SetQuote("BTC_USDT", decimal.NewFromInt(99), decimal.NewFromInt(101))
	broker.RejectNext("insufficient margin")

	_, err := broker.SubmitOrder(context.Background(), &model.Order{
		Symbol:   "BTC_USDT",
		Side:     model.OrderSideBuy,
		Kind:     model.OrderKindMarket,
		Quantity: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, ErrOrderRejected)

	// Reject applies once, the next submission succeeds.
	_, err = broker.SubmitOrder(context.Background(), &model.Order{
		Symbol:   "BTC_USDT",
		Side:     model.OrderSideBuy,
		Kind:     model.OrderKindMarket,
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
}

func TestPaperBrokerCannotCancelFilledOrder(t *testing.T) {
	broker := NewPaperBroker()
	broker.SetQuote("BTC_USDT", decimal.NewFromInt(99), decimal.NewFromInt(101))

	ref, err := broker.SubmitOrder(context.Background(), &model.Order{
		Symbol:   "BTC_USDT",
		Side:     model.OrderSideBuy,
		Kind:     model.OrderKindMarket,
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	require.Error(t, broker.CancelOrder(context.Background(), ref))
}

func TestPaperBrokerNetsPositions(t *testing.T) {
	broker := NewPaperBroker()
	broker.SetQuote("BTC_USDT", decimal.NewFromInt(99), decimal.NewFromInt(101))

	submit := func(side string, qty int64) {
		t.Helper()
		_, err := broker.SubmitOrder(context.Background(), &model.Order{
			Symbol:   "BTC_USDT",
			Side:     side,
			Kind:     model.OrderKindMarket,
			Quantity: decimal.NewFromInt(qty),
		})
		require.NoError(t, err)
	}

	submit(model.OrderSideBuy, 5)
	submit(model.OrderSideSell, 2)

	positions, err := broker.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(3)))

	// Flat positions are not reported.
	submit(model.OrderSideSell, 3)
	positions, err = broker.GetPositions(context.Background())
	require.NoError(t, err)
	require.Empty(t, positions)
}

func TestPaperBrokerGetPriceMid(t *testing.T) {
	broker := NewPaperBroker()
	broker.SetQuote("BTC_USDT", decimal.NewFromInt(100), decimal.NewFromInt(102))

	mid, err := broker.GetPrice(context.Background(), "BTC_USDT", model.PriceTypeMid)
	require.NoError(t, err)
	require.True(t, mid.Equal(decimal.NewFromInt(101)))

	_, err = broker.GetPrice(context.Background(), "ETH_USDT", model.PriceTypeMid)
	require.Error(t, err)
}
