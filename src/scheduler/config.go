package scheduler

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Workers       int           `envconfig:"SCHEDULER_WORKERS" default:"4"`
	QueueSize     int           `envconfig:"SCHEDULER_QUEUE_SIZE" default:"64"`
	ExpertTimeout time.Duration `envconfig:"EXPERT_TIMEOUT" default:"2m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
