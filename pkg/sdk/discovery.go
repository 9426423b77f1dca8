package sdk

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env is the client configuration read from the environment.
type Env struct {
	ServerURL   string `env:"PROGRESS_SERVER_URL" envDefault:"https://localhost:7002"`
	Token       string `env:"PROGRESS_TOKEN"`
	UserID      string `env:"PROGRESS_USER_ID"`
	InsecureTLS bool   `env:"PROGRESS_TLS_INSECURE" envDefault:"true"`
}

// FromEnv builds a Client from PROGRESS_SERVER_URL and PROGRESS_TOKEN.
// Certificate checks are skipped unless PROGRESS_TLS_INSECURE=false, since
// the daemon's default certificate is self-signed.
func FromEnv() (*Client, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Token == "" {
		return nil, errors.New("PROGRESS_TOKEN is required")
	}
	return cfg.Client(), nil
}

// Client builds a Client from the configuration.
func (e Env) Client() *Client {
	var opts []Option
	if e.InsecureTLS {
		opts = append(opts, WithInsecureTLS())
	}
	if e.UserID != "" {
		opts = append(opts, WithIdentity(e.UserID))
	}
	return New(e.ServerURL, e.Token, opts...)
}
