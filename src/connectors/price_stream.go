package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
	"tradecore/src/pricecache"
)

type tickerMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// PriceStream keeps a per-account price cache warm from the broker's
// websocket ticker feed, so the reconciliation loop rarely needs a REST
// quote. Losing the stream is not fatal: the cache falls back to REST
// fetches on miss.
type PriceStream struct {
	url     string
	symbols []string
	cache   *pricecache.Cache
}

func NewPriceStream(url string, symbols []string, cache *pricecache.Cache) *PriceStream {
	return &PriceStream{url: url, symbols: symbols, cache: cache}
}

// Run consumes the feed until ctx is canceled, reconnecting with a fixed
// pause on any failure.
func (s *PriceStream) Run(ctx context.Context) {
	if s.url == "" {
		logger.Info("price stream disabled, no websocket URL configured")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("price stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *PriceStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, http.Header{})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Symbols: s.symbols}); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"url":     s.url,
		"symbols": s.symbols,
	}).Info("price stream connected")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg tickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.WithError(err).Debug("skipping unparsable stream message")
			continue
		}
		if msg.Type != "ticker" || msg.Symbol == "" {
			continue
		}

		s.apply(msg)
	}
}

func (s *PriceStream) apply(msg tickerMessage) {
	bid, errBid := decimal.NewFromString(msg.Bid)
	ask, errAsk := decimal.NewFromString(msg.Ask)
	if errBid != nil || errAsk != nil {
		logger.WithFields(map[string]interface{}{
			"symbol": msg.Symbol,
			"bid":    msg.Bid,
			"ask":    msg.Ask,
		}).Debug("skipping ticker with unparsable prices")
		return
	}

	s.cache.Put(msg.Symbol, model.PriceTypeBid, bid)
	s.cache.Put(msg.Symbol, model.PriceTypeAsk, ask)
	s.cache.Put(msg.Symbol, model.PriceTypeMid, bid.Add(ask).Div(decimal.NewFromInt(2)))
}
