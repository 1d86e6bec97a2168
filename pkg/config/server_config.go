package config

import (
	"time"

	"github.com/pkg/errors"
)

// ServerConfig holds the HTTP server parameters.
type ServerConfig struct {
	Address string `yaml:"address"`
	// ShutdownTimeout bounds the graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
	// Debug runs gin in debug mode.
	Debug bool `yaml:"debug,omitempty"`
}

// Validate checks if the ServerConfig has all required fields set.
func (c ServerConfig) Validate() error {
	if c.Address == "" {
		return errors.New("address must be set and non-empty")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown_timeout must be non-negative")
	}
	return nil
}
