package orderbook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradecore/src/connectors"
	"tradecore/src/model"
)

func newTestBook(t *testing.T) (*OrderBook, *connectors.PaperBroker, *memStore) {
	t.Helper()

	broker := connectors.NewPaperBroker()
	store := newMemStore()
	book := NewOrderBook(
		Config{PriceCacheTTL: time.Second},
		broker,
		memOrderStore{store},
		memTransactionStore{store},
		noopAudit{},
	)
	return book, broker, store
}

func TestOpenPositionMarketEntryFillsOnReconcile(t *testing.T) {
	ctx := context.Background()
	book, broker, store := newTestBook(t)
	broker.SetQuote("AAPL", dec("199"), dec("200"))

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "AAPL"}
	order := &model.Order{
		Side:     model.OrderSideBuy,
		Kind:     model.OrderKindMarket,
		Quantity: dec("10"),
		Origin:   model.OrderOriginManual,
	}

	require.NoError(t, book.OpenPosition(ctx, transaction, order))
	require.NotZero(t, transaction.ID)
	require.Equal(t, model.OrderStatusOpen, order.Status)
	require.NotNil(t, order.BrokerRef)

	require.NoError(t, book.Reconcile(ctx))

	saved, err := memTransactionStore{store}.FindByID(ctx, transaction.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusOpened, saved.Status)
	require.True(t, saved.Quantity.Equal(dec("10")))
	require.True(t, saved.OpenPrice.Equal(dec("200")))

	filled, err := store.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, filled.Status)
	require.NotNil(t, filled.FilledAt)
}

func TestTakeProfitWaitsForParentFillAndPricesFromIt(t *testing.T) {
	ctx := context.Background()
	book, broker, store := newTestBook(t)

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "AAPL"}
	entry := &model.Order{
		Side:       model.OrderSideBuy,
		Kind:       model.OrderKindLimit,
		Quantity:   dec("10"),
		LimitPrice: decPtr("239"),
		Origin:     model.OrderOriginAutomatic,
	}
	require.NoError(t, book.OpenPosition(ctx, transaction, entry))
	require.Len(t, broker.Submitted, 1)

	tp, err := book.UpsertTakeProfit(ctx, transaction.ID, dec("12"))
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusWaitingTrigger, tp.Status)
	// Nothing new reached the broker while the parent is unfilled.
	require.Len(t, broker.Submitted, 1)

	require.NoError(t, book.Reconcile(ctx))
	held, err := store.FindByID(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusWaitingTrigger, held.Status)

	// The market moving away from the fill must not affect the TP price.
	broker.SetQuote("AAPL", dec("250"), dec("251"))
	require.NoError(t, broker.FillOrder(*entry.BrokerRef, dec("239.69")))
	require.NoError(t, book.Reconcile(ctx))

	triggered, err := store.FindByID(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusOpen, triggered.Status)
	require.NotNil(t, triggered.LimitPrice)
	require.True(t, triggered.LimitPrice.Equal(dec("268.4528")),
		"got %s", triggered.LimitPrice)
	require.Len(t, broker.Submitted, 2)

	stored, ok := triggered.MetaDecimal(model.MetaParentFilledPrice)
	require.True(t, ok)
	require.True(t, stored.Equal(dec("239.69")))
}

func TestUpsertTakeProfitReusesWaitingChild(t *testing.T) {
	ctx := context.Background()
	book, broker, _ := newTestBook(t)

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "AAPL"}
	entry := &model.Order{
		Side:       model.OrderSideBuy,
		Kind:       model.OrderKindLimit,
		Quantity:   dec("10"),
		LimitPrice: decPtr("239"),
	}
	require.NoError(t, book.OpenPosition(ctx, transaction, entry))

	first, err := book.UpsertTakeProfit(ctx, transaction.ID, dec("12"))
	require.NoError(t, err)
	second, err := book.UpsertTakeProfit(ctx, transaction.ID, dec("15"))
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	percent, ok := second.MetaDecimal(model.MetaTakeProfitPercent)
	require.True(t, ok)
	require.True(t, percent.Equal(dec("15")))
	require.Len(t, broker.Submitted, 1)
}

func TestStopLossForShortEntryPricesAboveFill(t *testing.T) {
	ctx := context.Background()
	book, broker, store := newTestBook(t)
	broker.SetQuote("TSLA", dec("199"), dec("200"))

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "TSLA"}
	entry := &model.Order{
		Side:     model.OrderSideSell,
		Kind:     model.OrderKindMarket,
		Quantity: dec("4"),
	}
	require.NoError(t, book.OpenPosition(ctx, transaction, entry))
	require.NoError(t, book.Reconcile(ctx))

	sl, err := book.UpsertStopLoss(ctx, transaction.ID, dec("5"))
	require.NoError(t, err)

	placed, err := store.FindByID(ctx, sl.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusOpen, placed.Status)
	require.Equal(t, model.OrderSideBuy, placed.Side)
	require.Equal(t, model.OrderKindStop, placed.Kind)
	require.NotNil(t, placed.StopPrice)
	// Short filled at the bid (199); a 5% stop sits above the fill.
	require.True(t, placed.StopPrice.Equal(dec("208.95")), "got %s", placed.StopPrice)
}

func TestOpenPositionBrokerRejectIsTerminal(t *testing.T) {
	ctx := context.Background()
	book, broker, store := newTestBook(t)
	broker.RejectNext("insufficient buying power")

	audit := &captureAudit{}
	book.audit = audit

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "AAPL"}
	order := &model.Order{
		Side:     model.OrderSideBuy,
		Kind:     model.OrderKindMarket,
		Quantity: dec("10"),
	}

	err := book.OpenPosition(ctx, transaction, order)
	require.ErrorIs(t, err, connectors.ErrOrderRejected)

	rejected, ferr := store.FindByID(ctx, order.ID)
	require.NoError(t, ferr)
	require.Equal(t, model.OrderStatusRejected, rejected.Status)

	saved, terr := memTransactionStore{store}.FindByID(ctx, transaction.ID)
	require.NoError(t, terr)
	require.Equal(t, model.TransactionStatusClosed, saved.Status)
	require.NotEmpty(t, audit.reasons)
}

func TestClosePositionFlattensAndCancelsDependents(t *testing.T) {
	ctx := context.Background()
	book, broker, store := newTestBook(t)
	broker.SetQuote("AAPL", dec("199"), dec("200"))

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "AAPL"}
	entry := &model.Order{
		Side:     model.OrderSideBuy,
		Kind:     model.OrderKindMarket,
		Quantity: dec("10"),
	}
	require.NoError(t, book.OpenPosition(ctx, transaction, entry))
	require.NoError(t, book.Reconcile(ctx))

	sl, err := book.UpsertStopLoss(ctx, transaction.ID, dec("5"))
	require.NoError(t, err)

	closer, err := book.ClosePosition(ctx, transaction.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderSideSell, closer.Side)
	require.True(t, closer.Quantity.Equal(dec("10")))

	canceled, err := store.FindByID(ctx, sl.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCanceled, canceled.Status)

	saved, err := memTransactionStore{store}.FindByID(ctx, transaction.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusClosing, saved.Status)

	require.NoError(t, book.Reconcile(ctx))
	saved, err = memTransactionStore{store}.FindByID(ctx, transaction.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusClosed, saved.Status)
	require.True(t, saved.ClosePrice.Equal(dec("199")))
}

func TestClosePositionWithoutFillReturnsErrNoPosition(t *testing.T) {
	ctx := context.Background()
	book, _, _ := newTestBook(t)

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "AAPL"}
	entry := &model.Order{
		Side:       model.OrderSideBuy,
		Kind:       model.OrderKindLimit,
		Quantity:   dec("10"),
		LimitPrice: decPtr("150"),
	}
	require.NoError(t, book.OpenPosition(ctx, transaction, entry))

	_, err := book.ClosePosition(ctx, transaction.ID)
	require.ErrorIs(t, err, ErrNoPosition)
}

func TestCancelWaitingChildNeverTouchesBroker(t *testing.T) {
	ctx := context.Background()
	book, broker, store := newTestBook(t)

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "AAPL"}
	entry := &model.Order{
		Side:       model.OrderSideBuy,
		Kind:       model.OrderKindLimit,
		Quantity:   dec("10"),
		LimitPrice: decPtr("150"),
	}
	require.NoError(t, book.OpenPosition(ctx, transaction, entry))

	tp, err := book.UpsertTakeProfit(ctx, transaction.ID, dec("10"))
	require.NoError(t, err)
	submitted := len(broker.Submitted)

	require.NoError(t, book.CancelOrder(ctx, tp.ID))
	require.Len(t, broker.Submitted, submitted)

	canceled, err := store.FindByID(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCanceled, canceled.Status)
}

func TestTriggerDerivesPercentFromPricedDependent(t *testing.T) {
	ctx := context.Background()
	book, broker, store := newTestBook(t)

	transaction := &model.Transaction{
		AccountID: 1,
		ExpertID:  "momentum",
		Symbol:    "AAPL",
		Status:    model.TransactionStatusOpened,
	}
	require.NoError(t, memTransactionStore{store}.Create(ctx, transaction))

	entry := &model.Order{
		TransactionID: transaction.ID,
		Symbol:        "AAPL",
		Side:          model.OrderSideBuy,
		Kind:          model.OrderKindLimit,
		Quantity:      dec("10"),
		Status:        model.OrderStatusFilled,
		OpenPrice:     decPtr("200"),
		FilledAt:      fillTime(0),
		Origin:        model.OrderOriginManual,
	}
	require.NoError(t, memOrderStore{store}.Create(ctx, entry))

	// A waiting take profit placed with an explicit price and no stored
	// percent: the trigger pass must derive the percent from that price.
	child := &model.Order{
		TransactionID: transaction.ID,
		ParentOrderID: &entry.ID,
		Symbol:        "AAPL",
		Side:          model.OrderSideSell,
		Kind:          model.OrderKindLimit,
		Quantity:      dec("10"),
		Status:        model.OrderStatusWaitingTrigger,
		LimitPrice:    decPtr("220"),
		Origin:        model.OrderOriginManual,
	}
	require.NoError(t, memOrderStore{store}.Create(ctx, child))

	book.ReconcileTransaction(ctx, transaction.ID)

	saved, err := store.FindByID(ctx, child.ID)
	require.NoError(t, err)
	percent, ok := saved.MetaDecimal(model.MetaTakeProfitPercent)
	require.True(t, ok, "derived percent must be stored on the order")
	require.True(t, percent.Equal(dec("10")))
	require.Equal(t, model.OrderStatusOpen, saved.Status)
	require.NotNil(t, saved.LimitPrice)
	require.True(t, saved.LimitPrice.Equal(dec("220")))
	require.Len(t, broker.Submitted, 1)
}

func TestReconcileCancelsChildrenOfExpiredEntry(t *testing.T) {
	ctx := context.Background()
	book, broker, store := newTestBook(t)

	transaction := &model.Transaction{AccountID: 1, ExpertID: "momentum", Symbol: "AAPL"}
	entry := &model.Order{
		Side:       model.OrderSideBuy,
		Kind:       model.OrderKindLimit,
		Quantity:   dec("10"),
		LimitPrice: decPtr("150"),
	}
	require.NoError(t, book.OpenPosition(ctx, transaction, entry))

	tp, err := book.UpsertTakeProfit(ctx, transaction.ID, dec("10"))
	require.NoError(t, err)

	require.NoError(t, broker.ExpireOrder(*entry.BrokerRef))
	require.NoError(t, book.Reconcile(ctx))

	child, err := store.FindByID(ctx, tp.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCanceled, child.Status)

	saved, err := memTransactionStore{store}.FindByID(ctx, transaction.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusClosed, saved.Status)
}
