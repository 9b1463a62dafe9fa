package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BrokerBaseURL  string        `envconfig:"BROKER_BASE_URL" default:"https://paper-api.tradecore.dev"`
	BrokerWSURL    string        `envconfig:"BROKER_WS_URL" default:""`
	RequestTimeout time.Duration `envconfig:"BROKER_REQUEST_TIMEOUT" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
