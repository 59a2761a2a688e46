package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	UIModeMulti  = "multi"
	UIModeSingle = "single"
)

type ClientConfig struct {
	HubURL     string `env:"HUB_URL" envDefault:"ws://localhost:8080/hub"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	AuthToken  string `env:"AUTH_TOKEN"`
	Profile    string `env:"PROFILE" envDefault:"default"`
	UIMode     string `env:"UI_MODE" envDefault:"multi"`

	MaxOpenTables           int  `env:"MAX_OPEN_TABLES" envDefault:"4"`
	ReserveTournamentTables bool `env:"RESERVE_TOURNAMENT_TABLES" envDefault:"true"`

	ConnectMaxAttempts       int `env:"CONNECT_MAX_ATTEMPTS" envDefault:"3"`
	ConnectRetryDelayMS      int `env:"CONNECT_RETRY_DELAY_MS" envDefault:"100"`
	ConnectRetryMaxDelayMS   int `env:"CONNECT_RETRY_MAX_DELAY_MS" envDefault:"3200"`
	ConnectionMaxLifetimeMin int `env:"CONNECTION_MAX_LIFETIME_MIN" envDefault:"60"`
	HubKeepaliveMS           int `env:"HUB_KEEPALIVE_MS" envDefault:"10000"`
	APITimeoutMS             int `env:"API_TIMEOUT_MS" envDefault:"5000"`
	OnlineCheckIntervalMS    int `env:"ONLINE_CHECK_INTERVAL_MS" envDefault:"5000"`

	StatusAddr  string `env:"STATUS_ADDR" envDefault:"127.0.0.1:8090"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.UIMode = strings.ToLower(strings.TrimSpace(cfg.UIMode))
	if cfg.UIMode != UIModeMulti && cfg.UIMode != UIModeSingle {
		return cfg, fmt.Errorf("invalid UI_MODE %q", cfg.UIMode)
	}
	if cfg.MaxOpenTables < 1 {
		return cfg, fmt.Errorf("MAX_OPEN_TABLES must be positive, got %d", cfg.MaxOpenTables)
	}
	return cfg, nil
}
