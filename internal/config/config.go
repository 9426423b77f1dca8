// Package config loads daemon settings from the environment.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mohametBa/UniversMurid-sub001/internal/vault"
)

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config holds all configuration values for the daemon.
type Config struct {
	HTTPAddr string `env:"PROGRESS_HTTP_ADDR" envDefault:":7002"`

	// Storage
	Storage   string `env:"PROGRESS_STORAGE" envDefault:"sqlite"`
	DBPath    string `env:"PROGRESS_DB_PATH" envDefault:"./data/progress.db"`
	DataDir   string `env:"PROGRESS_DATA_DIR" envDefault:"./data"`
	ImportDir string `env:"PROGRESS_IMPORT_DIR"`
	StateKey  string `env:"PROGRESS_STATE_KEY"`

	// Credentials
	JWTSecret string `env:"PROGRESS_JWT_SECRET"`
	JWTIssuer string `env:"PROGRESS_JWT_ISSUER"`

	DisableTLS      bool   `env:"PROGRESS_DISABLE_TLS" envDefault:"false"`
	HistoryMaxLimit int    `env:"PROGRESS_HISTORY_MAX_LIMIT" envDefault:"100"`
	LogLevel        string `env:"PROGRESS_LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file (or the given files) and then the
// environment. Variables already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required and enumerated fields.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("PROGRESS_JWT_SECRET is required")
	}
	switch c.Storage {
	case StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("PROGRESS_STORAGE must be %q or %q, got %q", StorageSQLite, StorageMemory, c.Storage)
	}
	if c.HistoryMaxLimit < 1 {
		return fmt.Errorf("PROGRESS_HISTORY_MAX_LIMIT must be positive, got %d", c.HistoryMaxLimit)
	}
	if c.StateKey != "" {
		if _, err := vault.ParseKey(c.StateKey); err != nil {
			return fmt.Errorf("invalid PROGRESS_STATE_KEY: %w", err)
		}
	}
	return nil
}

// Sealer returns the at-rest sealer for game state, or nil when no state key is set.
func (c *Config) Sealer() (*vault.Sealer, error) {
	if c.StateKey == "" {
		return nil, nil
	}
	key, err := vault.ParseKey(c.StateKey)
	if err != nil {
		return nil, err
	}
	return vault.NewSealer(key)
}
