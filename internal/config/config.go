package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server configures the reference scoring backend.
type Server struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":5420"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/gameday.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SeedDemo bool       `env:"SEED_DEMO" envDefault:"true"`
}

// Client configures the referee terminal client.
type Client struct {
	APIURL         string        `env:"REFCALC_API_URL" envDefault:"http://localhost:5420"`
	SessionToken   string        `env:"REFCALC_SESSION_TOKEN"`
	BackupDB       string        `env:"REFCALC_BACKUP_DB" envDefault:"refcalc-backups.db"`
	SaveDelay      time.Duration `env:"REFCALC_SAVE_DELAY" envDefault:"750ms"`
	ProbeInterval  time.Duration `env:"REFCALC_PROBE_INTERVAL" envDefault:"30s"`
	RequestTimeout time.Duration `env:"REFCALC_REQUEST_TIMEOUT" envDefault:"0s"`
	LogLevel       slog.Level    `env:"LOG_LEVEL" envDefault:"WARN"`
}

func LoadServer() (*Server, error) {
	cfg, err := env.ParseAs[Server]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

func LoadClient() (*Client, error) {
	cfg, err := env.ParseAs[Client]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
