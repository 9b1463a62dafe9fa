package marketdata

import (
	"testing"

	"github.com/nntaoli-project/goex"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalToGoex(t *testing.T) {
	tests := []struct {
		intervalStr string
		expected    goex.KlinePeriod
	}{
		{"1m", goex.KLINE_PERIOD_1MIN},
		{"1h", goex.KLINE_PERIOD_1H},
		{"unknown", goex.KLINE_PERIOD_1H},
	}

	for _, tt := range tests {
		t.Run(tt.intervalStr, func(t *testing.T) {
			md := &MarketData{Config: &Config{IntervalStr: tt.intervalStr}}
			require.Equal(t, tt.expected, md.parseIntervalToGoex())
		})
	}
}

func TestPairName(t *testing.T) {
	md := &MarketData{Config: &Config{Symbol: "BTC", Quote: "USDT"}}
	require.Equal(t, "BTC_USDT", md.pairName())
}
