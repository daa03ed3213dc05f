package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port           int    `envconfig:"PORT" default:"8080"`
	AssetDir       string `envconfig:"ASSET_DIR" default:"./data/assets"`
	ComposeAPIURL  string `envconfig:"COMPOSE_API_URL" default:"http://localhost:9090/v1/composite"`
	ComposeAPIKey  string `envconfig:"COMPOSE_API_KEY" default:""`
	ComposeTimeout int    `envconfig:"COMPOSE_TIMEOUT_SECONDS" default:"120"`
	SessionTTL     int    `envconfig:"SESSION_TTL_MINUTES" default:"60"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
