// Package backend persists the raw entries of a configuration store in Redis, PostgreSQL,
// MongoDB or Memcached. Values are stored literally, substitution expressions included, and
// keys without value survive a save/load round trip.
package backend

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"slices"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/config"
	"github.com/pkg/errors"
)

// Backend stores and restores a root store.
type Backend interface {
	// Save replaces everything previously saved with the entries of s. Subsets are
	// rejected with cfg.ErrInvalidOperation.
	Save(ctx context.Context, s *cfg.Store) error
	// Load returns a new root store with the saved entries. Nothing saved yet loads an
	// empty store.
	Load(ctx context.Context) (*cfg.Store, error)
	// Name returns a human-readable name for this backend (for logging/debugging)
	Name() string
	// Close releases the connections held by the backend.
	Close() error
}

// backendConfig is a validatable configuration that knows how to create its backend.
type backendConfig interface {
	config.Validatable
	CreateBackend(ctx context.Context) (Backend, error)
}

var factories = map[string]func(ctx context.Context, raw []byte) (Backend, error){
	"redis":     newFromConfig[RedisConfig],
	"postgres":  newFromConfig[PostgresConfig],
	"mongodb":   newFromConfig[MongoDBConfig],
	"memcached": newFromConfig[MemcachedConfig],
}

// Types returns the sorted supported backend type names.
func Types() []string {
	types := make([]string, 0, len(factories))
	for typ := range factories {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// Build creates and connects a backend of the given type from its YAML configuration block.
func Build(ctx context.Context, typ string, raw []byte) (Backend, error) {
	factory, ok := factories[typ]
	if !ok {
		return nil, errors.Errorf("unknown backend type %q, must be one of %v", typ, Types())
	}
	b, err := factory(ctx, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s backend", typ)
	}
	return b, nil
}

func newFromConfig[T backendConfig](ctx context.Context, raw []byte) (Backend, error) {
	// an absent block configures the zero value
	if raw == nil {
		raw = config.RawConfig{}
	}
	c, err := config.UnmarshalTo[T](raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid backend configuration")
	}
	return (*c).CreateBackend(ctx)
}

// rawPairs returns the entries of a root store or an error for subsets.
func rawPairs(s *cfg.Store) ([]cfg.Pair, error) {
	if s == nil {
		return nil, errors.Wrap(cfg.ErrInvalidOperation, "cannot save a nil store")
	}
	return s.RawPairs()
}

// TLSConfig holds TLS configuration for backend connections.
// The presence of this configuration block enables TLS - there is no separate "enabled" flag.
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
}

// Validate checks that client certificate and key are configured together.
func (t *TLSConfig) Validate() error {
	if t == nil {
		return nil
	}
	if (t.CertFile != "") != (t.KeyFile != "") {
		return errors.New("both cert_file and key_file must be set together in TLS configuration")
	}
	return nil
}

// build creates a tls.Config from the settings. Returns nil if no TLS config is provided.
func (t *TLSConfig) build() (*tls.Config, error) {
	if t == nil {
		return nil, nil
	}

	// #nosec G402 -- InsecureSkipVerify is a configurable option for dev/test environments
	tlsConfig := &tls.Config{
		InsecureSkipVerify: t.InsecureSkipVerify,
	}

	if t.CertFile != "" && t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read CA certificate")
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.Errorf("failed to parse CA certificate %q", t.CAFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
