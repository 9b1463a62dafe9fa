package orderbook

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"15s"`
	PriceCacheTTL     time.Duration `envconfig:"PRICE_CACHE_TTL" default:"5s"`
	AuditQueueSize    int           `envconfig:"AUDIT_QUEUE_SIZE" default:"256"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
