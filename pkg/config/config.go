// Package config reads the bootstrap file of the cfgstore command: the configuration
// sources to load, the backend to persist to and the HTTP server settings.
//
// String values may reference the environment or secret files:
//
//	password: ${DB_PASSWORD}          # environment (implicit)
//	password: ${env:DB_PASSWORD}      # environment (explicit)
//	password: ${file:db_password}     # <config file dir>/db_password, trimmed
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the bootstrap configuration.
	Config struct {
		// Sources are loaded in order; keys of later sources win.
		Sources []Binding     `yaml:"sources"`
		Backend *Binding      `yaml:"backend,omitempty"`
		Server  *ServerConfig `yaml:"server,omitempty"`
	}

	// Binding selects a source or backend type and carries its raw configuration block.
	Binding struct {
		TypeName   string    `yaml:"type"`
		Name       string    `yaml:"name,omitempty"`
		ConfigData RawConfig `yaml:"config"`
	}

	// RawConfig is a YAML block decoded later by the factory of the bound type.
	RawConfig []byte
)

// Validatable is implemented by every configuration section.
type Validatable interface {
	Validate() error
}

// Validate checks that the binding names a type.
func (b Binding) Validate() error {
	if b.TypeName == "" {
		return errors.New("type must be set and non-empty")
	}
	return nil
}

// DisplayName returns the name of the binding, or its type when unnamed.
func (b Binding) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.TypeName
}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	for i, source := range c.Sources {
		if err := source.Validate(); err != nil {
			return errors.Wrapf(err, "source %d is invalid", i)
		}
	}
	if c.Backend != nil {
		if err := c.Backend.Validate(); err != nil {
			return errors.Wrap(err, "backend is invalid")
		}
	}
	if c.Server != nil {
		if err := c.Server.Validate(); err != nil {
			return errors.Wrap(err, "server configuration is invalid")
		}
	}
	return nil
}

// ReadConfig reads the YAML configuration file, expands variable references and validates it.
// Secret file references are resolved relative to the directory of the file.
func ReadConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file) // #nosec G304 -- the config file path is chosen by the operator
	if err != nil {
		return nil, errors.Wrapf(err, "configuration file %q could not be read", file)
	}
	return Parse(data, filepath.Dir(file))
}

// Parse decodes a YAML configuration document. Secret file references are resolved relative
// to secretsDir.
func Parse(data []byte, secretsDir string) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid configuration document")
	}
	if err := expandNode(&doc, newExpander(secretsDir)); err != nil {
		return nil, err
	}

	out := &Config{}
	if err := doc.Decode(out); err != nil {
		return nil, errors.Wrap(err, "invalid configuration document")
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
// It marshals the provided yaml.Node back into a YAML byte slice.
func (c *RawConfig) UnmarshalYAML(value *yaml.Node) error {
	out, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	*c = out
	return nil
}

// UnmarshalTo decodes the raw block into a new instance of T and validates it.
func UnmarshalTo[T Validatable](c RawConfig) (*T, error) {
	if c == nil {
		return nil, nil
	}
	var result T
	if err := yaml.Unmarshal(c, &result); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, errors.Wrap(err, "config is invalid")
	}
	return &result, nil
}
