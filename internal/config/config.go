// Package config reads the service configuration from flags and environment.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime parameters of the plazaviva API service.
type Config struct {
	RunAddress      string        `env:"PLAZAVIVA_ADDR"`
	DatabaseDSN     string        `env:"PLAZAVIVA_PG_DSN"`
	TokenTTL        time.Duration `env:"PLAZAVIVA_TOKEN_TTL"`
	ShutdownTimeout time.Duration `env:"PLAZAVIVA_SHUTDOWN_TIMEOUT"`
}

// Parse reads configuration from command-line flags and environment
// variables. Environment values take precedence over flags.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseDSN := cfg.DatabaseDSN
	envTokenTTL := cfg.TokenTTL
	envShutdownTimeout := cfg.ShutdownTimeout

	flag.StringVar(&cfg.RunAddress, "a", ":8080", "address and port for the HTTP server")
	flag.StringVar(&cfg.DatabaseDSN, "d", "", "postgres DSN; empty runs without persistence")
	flag.DurationVar(&cfg.TokenTTL, "token-ttl", 24*time.Hour, "lifetime of issued auth tokens")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown deadline")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseDSN != "" {
		cfg.DatabaseDSN = envDatabaseDSN
	}
	if envTokenTTL != 0 {
		cfg.TokenTTL = envTokenTTL
	}
	if envShutdownTimeout != 0 {
		cfg.ShutdownTimeout = envShutdownTimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = ":8080"
	}

	return cfg, nil
}
