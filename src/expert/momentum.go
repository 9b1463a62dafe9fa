package expert

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

type barStore interface {
	FindRecent(ctx context.Context, symbol, interval string, limit int) ([]model.OHLCVBar, error)
}

// Momentum is the reference in-process expert: it compares a short and a
// long simple moving average over backfilled candles. It exists so the
// whole pipeline can run without an external model, and doubles as the
// integration-test expert.
type Momentum struct {
	bars        barStore
	interval    string
	shortWindow int
	longWindow  int
}

func NewMomentum(bars barStore, interval string, shortWindow, longWindow int) *Momentum {
	if shortWindow <= 0 {
		shortWindow = 5
	}
	if longWindow <= shortWindow {
		longWindow = shortWindow * 4
	}
	return &Momentum{bars: bars, interval: interval, shortWindow: shortWindow, longWindow: longWindow}
}

func (m *Momentum) ID() string {
	return "momentum"
}

func (m *Momentum) Analyze(ctx context.Context, symbol, useCase string) (*model.Recommendation, error) {
	bars, err := m.bars.FindRecent(ctx, symbol, m.interval, m.longWindow)
	if err != nil {
		return nil, err
	}
	if len(bars) < m.longWindow {
		return nil, fmt.Errorf("momentum needs %d candles for %s, have %d", m.longWindow, symbol, len(bars))
	}

	shortAvg := averageClose(bars[:m.shortWindow])
	longAvg := averageClose(bars)
	lastClose := bars[0].Close

	// Signed divergence of the short average from the long one, in percent.
	divergence := shortAvg.Sub(longAvg).Div(longAvg).Mul(decimal.NewFromInt(100))

	recommendation := &model.Recommendation{
		ExpertID:       m.ID(),
		Symbol:         symbol,
		Action:         m.action(useCase, divergence),
		Confidence:     confidence(divergence),
		ReferencePrice: lastClose,
		Attributes: map[string]any{
			"sma_short":      shortAvg.String(),
			"sma_long":       longAvg.String(),
			"divergence_pct": divergence.String(),
		},
	}
	recommendation.ExpectedProfitPct = divergence.Abs()

	logger.WithFields(map[string]interface{}{
		"expert":     m.ID(),
		"symbol":     symbol,
		"use_case":   useCase,
		"action":     recommendation.Action,
		"divergence": divergence.String(),
	}).Info("momentum analysis complete")
	return recommendation, nil
}

// action maps the divergence to a recommendation. Entering the market
// follows the trend; managing an open position closes it once the trend
// fades below the threshold.
func (m *Momentum) action(useCase string, divergence decimal.Decimal) string {
	threshold := decimal.RequireFromString("0.5")

	if useCase == model.UseCaseOpenPositions {
		if divergence.Abs().LessThan(threshold) {
			return model.RecommendationActionClose
		}
		return model.RecommendationActionHold
	}

	switch {
	case divergence.GreaterThanOrEqual(threshold):
		return model.RecommendationActionBuy
	case divergence.LessThanOrEqual(threshold.Neg()):
		return model.RecommendationActionSell
	default:
		return model.RecommendationActionHold
	}
}

// confidence saturates at 1.0 once the divergence reaches 5%.
func confidence(divergence decimal.Decimal) decimal.Decimal {
	c := divergence.Abs().Div(decimal.NewFromInt(5))
	if c.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return c
}

func averageClose(bars []model.OHLCVBar) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range bars {
		sum = sum.Add(b.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(len(bars))))
}
