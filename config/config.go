package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the runtime settings, populated from the environment with
// the VERIVOTE_ prefix.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`

	// DataDir is where the file-backed store and the audit key live.
	// Ignored for ballots and events when DatabaseURL is set.
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// DatabaseURL switches persistence to PostgreSQL when non-empty.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	PaillierBits  int           `envconfig:"PAILLIER_BITS" default:"2048"`
	CryptoTimeout time.Duration `envconfig:"CRYPTO_TIMEOUT" default:"30s"`
	CryptoWorkers int           `envconfig:"CRYPTO_WORKERS" default:"4"`
	CryptoQueue   int           `envconfig:"CRYPTO_QUEUE" default:"64"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("verivote", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if cfg.PaillierBits < 512 {
		return nil, fmt.Errorf("PAILLIER_BITS must be at least 512, got %d", cfg.PaillierBits)
	}
	if cfg.CryptoWorkers < 1 {
		return nil, fmt.Errorf("CRYPTO_WORKERS must be positive, got %d", cfg.CryptoWorkers)
	}
	return &cfg, nil
}
