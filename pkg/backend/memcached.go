package backend

import (
	"bytes"
	"context"
	"time"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/propfile"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultMemcachedKey = "cfg"

// MemcachedConfig holds configuration for the Memcached connection
type MemcachedConfig struct {
	// Servers is a list of Memcached server addresses (host:port)
	// Example: ["localhost:11211", "localhost:11212"]
	Servers []string `yaml:"servers"`

	// Timeout for connecting to Memcached servers
	// Default: 100ms if not specified
	Timeout time.Duration `yaml:"timeout"`

	// MaxIdleConns is the maximum number of idle connections per server
	// Default: 2 if not specified
	MaxIdleConns int `yaml:"max_idle_conns"`

	// Key under which the store is saved. Default: "cfg"
	Key string `yaml:"key,omitempty"`
}

// Validate checks if the MemcachedConfig has all required fields set
func (m MemcachedConfig) Validate() error {
	if len(m.Servers) == 0 {
		return errors.New("at least one Memcached server address is required")
	}
	for i, server := range m.Servers {
		if server == "" {
			return errors.Errorf("server address at index %d is empty", i)
		}
	}
	if m.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	if m.MaxIdleConns < 0 {
		return errors.New("max_idle_conns cannot be negative")
	}
	return nil
}

// CreateClient creates a Memcached client from this config and pings the servers.
func (m MemcachedConfig) CreateClient() (*memcache.Client, error) {
	client := memcache.New(m.Servers...)

	client.Timeout = 100 * time.Millisecond
	if m.Timeout > 0 {
		client.Timeout = m.Timeout
	}
	client.MaxIdleConns = 2
	if m.MaxIdleConns > 0 {
		client.MaxIdleConns = m.MaxIdleConns
	}

	if err := client.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Memcached")
	}
	return client, nil
}

// CreateBackend connects to Memcached.
func (m MemcachedConfig) CreateBackend(context.Context) (Backend, error) {
	client, err := m.CreateClient()
	if err != nil {
		return nil, err
	}
	return NewMemcachedBackend(client, m.Key), nil
}

// MemcachedClient is the part of *memcache.Client used by MemcachedBackend.
type MemcachedClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Close() error
}

// MemcachedBackend stores the whole store as one properties document under a single key,
// so a save replaces everything at once. Keys without value load back as keys with an
// empty value.
type MemcachedBackend struct {
	client MemcachedClient
	key    string
}

// NewMemcachedBackend creates a backend on the given client. An empty key uses "cfg".
func NewMemcachedBackend(client MemcachedClient, key string) *MemcachedBackend {
	if key == "" {
		key = defaultMemcachedKey
	}
	return &MemcachedBackend{client: client, key: key}
}

// Save writes the entries of s under the configured key without expiration.
func (m *MemcachedBackend) Save(_ context.Context, s *cfg.Store) error {
	if s == nil {
		return errors.Wrap(cfg.ErrInvalidOperation, "cannot save a nil store")
	}
	data, err := propfile.Marshal(s)
	if err != nil {
		return err
	}
	if err := m.client.Set(&memcache.Item{Key: m.key, Value: data}); err != nil {
		return errors.Wrapf(err, "failed to save configuration to Memcached key %q", m.key)
	}
	log.Debug().Str("key", m.key).Int("bytes", len(data)).Msg("Saved configuration to Memcached")
	return nil
}

// Load reads the properties document stored under the configured key.
func (m *MemcachedBackend) Load(context.Context) (*cfg.Store, error) {
	item, err := m.client.Get(m.key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		log.Debug().Str("key", m.key).Msg("No configuration saved in Memcached")
		return cfg.New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load configuration from Memcached key %q", m.key)
	}
	store, err := propfile.Load(bytes.NewReader(item.Value))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid configuration stored in Memcached key %q", m.key)
	}
	log.Debug().Str("key", m.key).Int("entries", len(store.Keys())).Msg("Loaded configuration from Memcached")
	return store, nil
}

// Name returns the backend name
func (m *MemcachedBackend) Name() string {
	return "Memcached key " + m.key
}

// Close closes the idle connections of the client.
func (m *MemcachedBackend) Close() error {
	return m.client.Close()
}
