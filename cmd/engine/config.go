package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Symbols           string        `envconfig:"SYMBOLS" default:"BTC_USDT"`
	ExpertID          string        `envconfig:"EXPERT_ID" default:"momentum"`
	AnalysisInterval  time.Duration `envconfig:"ANALYSIS_INTERVAL" default:"1m"`
	PaperTrading      bool          `envconfig:"PAPER_TRADING" default:"true"`
	BrokerAccountName string        `envconfig:"BROKER_ACCOUNT_NAME" default:""`
	BarInterval       string        `envconfig:"BAR_INTERVAL" default:"1h"`
	SMAShortWindow    int           `envconfig:"SMA_SHORT_WINDOW" default:"5"`
	SMALongWindow     int           `envconfig:"SMA_LONG_WINDOW" default:"20"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}

// SymbolList splits the comma-separated SYMBOLS value, dropping blanks.
func (c *Config) SymbolList() []string {
	var symbols []string
	for _, s := range strings.Split(c.Symbols, ",") {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			symbols = append(symbols, trimmed)
		}
	}
	return symbols
}
