package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/cameroncuttingedge/wear_control/utils"
)

type Config struct {
	HTTPAddr string `env:"WEAR_HTTP_ADDR" envDefault:":8080"`
	Logging  bool   `env:"WEAR_LOGGING" envDefault:"false"`
	LogFile  string `env:"WEAR_LOG_FILE" envDefault:"wearcontrol.log"`
	LogLevel string `env:"WEAR_LOG_LEVEL" envDefault:"info"`
	NodeID   string `env:"WEAR_NODE_ID"`
}

// Load reads the configuration from the environment. A missing node id is
// generated.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = utils.GenerateNodeID()
	}
	return &cfg, nil
}
