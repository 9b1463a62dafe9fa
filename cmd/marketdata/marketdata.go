package marketdata

import (
	"context"
	"net/http"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
	"tradecore/src/repository"
)

const (
	Interval1m = "1m"
	Interval1h = "1h"
)

// MarketData backfills OHLCV bars from the exchange into the bar store
// so experts have history to analyze.
type MarketData struct {
	Log      *logger.Entry
	Config   *Config
	Bars     *repository.OHLCVRepository
	exchange goex.API
}

func (m *MarketData) Start() error {
	m.Config = GetConfig()

	if m.Bars == nil {
		m.Bars = repository.NewOHLCVRepository()
	}

	m.exchange = m.newBinanceInstance()

	ctx := context.Background()

	if m.Config.AutoMode {
		if err := m.determineStartPoint(ctx); err != nil {
			return err
		}
	}

	return m.fetchAndSave(ctx)
}

func (*MarketData) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

func (m *MarketData) fetchAndSave(ctx context.Context) error {
	klines, err := m.fetchKlines()
	if err != nil {
		m.Log.WithError(err).Error("fetchAndSave, GetKlineRecords")
		return err
	}

	bars := make([]model.OHLCVBar, 0, len(klines))
	for i := range klines {
		k := klines[i]
		bars = append(bars, model.OHLCVBar{
			Symbol:   k.Pair.String(),
			Interval: m.Config.IntervalStr,
			Datetime: time.Unix(k.Timestamp, 0).UTC(),
			Open:     decimal.NewFromFloat(k.Open),
			High:     decimal.NewFromFloat(k.High),
			Low:      decimal.NewFromFloat(k.Low),
			Close:    decimal.NewFromFloat(k.Close),
			Volume:   decimal.NewFromFloat(k.Vol),
		})
	}

	if err := m.Bars.UpsertBars(ctx, bars); err != nil {
		return err
	}

	m.Log.WithFields(logger.Fields{
		"symbol":   m.pairName(),
		"interval": m.Config.IntervalStr,
		"bars":     len(bars),
	}).Info("OHLCV bars inserted or updated in database")

	return nil
}

// determineStartPoint resumes the backfill from the newest stored bar,
// one interval back so the still-forming candle is rewritten.
func (m *MarketData) determineStartPoint(ctx context.Context) error {
	m.Config.EndDt = time.Now()

	latest, err := m.Bars.FindRecent(ctx, m.pairName(), m.Config.IntervalStr, 1)
	if err != nil {
		m.Log.WithError(err).Error("Failed to query latest bar")
		return err
	}

	if len(latest) == 0 {
		m.Log.
			WithField("StartDt", m.Config.StartDt.String()).
			WithField("EndDt", m.Config.EndDt.String()).
			Info("no existing bars found, starting from the configured StartDt")
		return nil
	}

	m.Config.StartDt = latest[0].Datetime.Add(-m.parseInterval())
	m.Log.
		WithField("StartDt", m.Config.StartDt.String()).
		WithField("EndDt", m.Config.EndDt.String()).
		Info("determineStartPoint resuming from latest stored bar")

	return nil
}

func (m *MarketData) fetchKlines() ([]goex.Kline, error) {
	targetSymbol := goex.NewCurrencyPair(
		goex.Currency{Symbol: m.Config.Symbol},
		goex.Currency{Symbol: m.Config.Quote},
	)

	const millis = 1000
	return m.exchange.GetKlineRecords(
		targetSymbol,
		m.parseIntervalToGoex(),
		m.Config.Limit,
		goex.OptionalParameter{}.
			Optional("startTime", m.Config.StartDt.Unix()*millis).
			Optional("endTime", m.Config.EndDt.Unix()*millis),
	)
}

func (m *MarketData) pairName() string {
	return m.Config.Symbol + "_" + m.Config.Quote
}

func (m *MarketData) parseInterval() time.Duration {
	switch m.Config.IntervalStr {
	case Interval1m:
		return time.Minute
	default:
		return time.Hour
	}
}

func (m *MarketData) parseIntervalToGoex() goex.KlinePeriod {
	switch m.Config.IntervalStr {
	case Interval1m:
		return goex.KLINE_PERIOD_1MIN
	default:
		return goex.KLINE_PERIOD_1H
	}
}
