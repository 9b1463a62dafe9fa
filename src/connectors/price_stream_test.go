package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecore/src/model"
	"tradecore/src/pricecache"
)

func noFetch(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("no broker fetch in this test")
}

func TestPriceStreamFeedsCache(t *testing.T) {
	upgrader := websocket.Upgrader{}

	received := make(chan subscribeMessage, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub subscribeMessage
		require.NoError(t, conn.ReadJSON(&sub))
		received <- sub

		ticker, _ := json.Marshal(tickerMessage{
			Type:   "ticker",
			Symbol: "BTC_USDT",
			Bid:    "99.5",
			Ask:    "100.5",
		})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, ticker))

		// Garbage and non-ticker frames must be skipped, not kill the stream.
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		heartbeat, _ := json.Marshal(tickerMessage{Type: "heartbeat"})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, heartbeat))

		<-r.Context().Done()
	}))
	defer server.Close()

	cache := pricecache.New(time.Minute, noFetch)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	stream := NewPriceStream(wsURL, []string{"BTC_USDT"}, cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	select {
	case sub := <-received:
		require.Equal(t, "subscribe", sub.Op)
		require.Equal(t, []string{"BTC_USDT"}, sub.Symbols)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received subscription")
	}

	require.Eventually(t, func() bool {
		mid, err := cache.GetPrice(context.Background(), "BTC_USDT", model.PriceTypeMid)
		return err == nil && mid.Equal(decimal.NewFromInt(100))
	}, 2*time.Second, 10*time.Millisecond)

	bid, err := cache.GetPrice(context.Background(), "BTC_USDT", model.PriceTypeBid)
	require.NoError(t, err)
	require.True(t, bid.Equal(decimal.RequireFromString("99.5")))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on context cancel")
	}
}

func TestPriceStreamNoURLIsNoop(t *testing.T) {
	stream := NewPriceStream("", nil, pricecache.New(time.Minute, noFetch))

	done := make(chan struct{})
	go func() {
		stream.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream with empty URL should return immediately")
	}
}
