package source

import (
	"context"
	"os"
	"strings"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
)

// EnvConfig configures an environment variable source.
type EnvConfig struct {
	// Prefix restricts the source to variables starting with it. The prefix is stripped.
	Prefix string `yaml:"prefix,omitempty"`
	// DottedKeys maps APP_DB_HOST style names to db.host style keys.
	DottedKeys bool `yaml:"dotted_keys,omitempty"`
}

// Validate accepts every EnvConfig.
func (c EnvConfig) Validate() error {
	return nil
}

// CreateSource creates an EnvSource reading the process environment.
func (c EnvConfig) CreateSource(context.Context) (Source, error) {
	return &EnvSource{Prefix: c.Prefix, DottedKeys: c.DottedKeys}, nil
}

// EnvSource takes a snapshot of the environment variables. Without options every variable
// becomes a key with its exact name.
type EnvSource struct {
	Prefix     string
	DottedKeys bool
	// Environ returns the environment as KEY=value strings. Defaults to os.Environ.
	Environ func() []string
}

// Pairs returns the matching environment variables.
func (e *EnvSource) Pairs(context.Context) ([]cfg.Pair, error) {
	environ := e.Environ
	if environ == nil {
		environ = os.Environ
	}
	var pairs []cfg.Pair
	for _, kv := range environ() {
		name, value, _ := strings.Cut(kv, "=")
		name, ok := strings.CutPrefix(name, e.Prefix)
		if !ok || name == "" {
			continue
		}
		if e.DottedKeys {
			name = strings.ToLower(strings.ReplaceAll(name, "_", "."))
		}
		pairs = append(pairs, cfg.Pair{Key: name, Value: cfg.Ptr(value)})
	}
	return pairs, nil
}

// Name returns the source name
func (e *EnvSource) Name() string {
	if e.Prefix != "" {
		return "environment (" + e.Prefix + "*)"
	}
	return "environment"
}
