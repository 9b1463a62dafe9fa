package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCVBar is one candle of market data, backfilled by cmd/marketdata and
// read by the reference expert.
type OHLCVBar struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	Symbol   string          `gorm:"size:30;index:idx_bar,unique" json:"symbol"`
	Interval string          `gorm:"size:10;index:idx_bar,unique" json:"interval"`
	Datetime time.Time       `gorm:"index:idx_bar,unique" json:"datetime"`
	Open     decimal.Decimal `gorm:"type:numeric" json:"open"`
	High     decimal.Decimal `gorm:"type:numeric" json:"high"`
	Low      decimal.Decimal `gorm:"type:numeric" json:"low"`
	Close    decimal.Decimal `gorm:"type:numeric" json:"close"`
	Volume   decimal.Decimal `gorm:"type:numeric" json:"volume"`
}

func (OHLCVBar) TableName() string {
	return "ohlcv_bars"
}
