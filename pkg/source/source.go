// Package source loads configuration stores from external sources of key/value pairs:
// properties files, environment variables, YAML and TOML documents, HashiCorp Vault and
// AWS Secrets Manager.
package source

import (
	"context"
	"slices"
	"sync"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Source produces the raw key/value pairs of one configuration source.
type Source interface {
	// Pairs returns the pairs of the source. Values are returned literally: substitution
	// expressions are resolved by the store on access.
	Pairs(ctx context.Context) ([]cfg.Pair, error)

	// Name returns a human-readable name for this source (for logging/debugging)
	Name() string
}

// Load reads all sources in order and merges them into a new root store. Keys of later
// sources overwrite keys of earlier ones.
func Load(ctx context.Context, sources ...Source) (*cfg.Store, error) {
	store := cfg.New()
	for _, src := range sources {
		pairs, err := src.Pairs(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration from %s", src.Name())
		}
		if err := store.Merge(cfg.FromPairs(pairs)); err != nil {
			return nil, err
		}
		log.Debug().Str("source", src.Name()).Int("entries", len(pairs)).Msg("Loaded configuration source")
	}
	return store, nil
}

// Factory creates a Source from its YAML configuration block.
type Factory func(ctx context.Context, raw []byte) (Source, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

func init() {
	Register("properties", newFromConfig[PropertiesConfig])
	Register("env", newFromConfig[EnvConfig])
	Register("yaml", newFromConfig[YAMLConfig])
	Register("toml", newFromConfig[TOMLConfig])
	Register("vault", newFromConfig[VaultConfig])
	Register("aws", newFromConfig[AWSConfig])
}

// Register registers a source factory for a type name. Registering a type twice replaces
// the previous factory.
func Register(typ string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := factories[typ]; exists {
		log.Warn().Msgf("Overriding existing source factory for type %q", typ)
	}
	factories[typ] = factory
}

// Unregister removes the factory of a type name.
func Unregister(typ string) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	delete(factories, typ)
}

// Types returns the sorted registered type names.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(factories))
	for typ := range factories {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// Build creates a source of the given type from its YAML configuration block.
func Build(ctx context.Context, typ string, raw []byte) (Source, error) {
	factoriesMu.RLock()
	factory, ok := factories[typ]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no source registered for type %q", typ)
	}
	src, err := factory(ctx, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s source", typ)
	}
	return src, nil
}

// sourceConfig is a validatable configuration that knows how to create its source.
type sourceConfig interface {
	config.Validatable
	CreateSource(ctx context.Context) (Source, error)
}

func newFromConfig[T sourceConfig](ctx context.Context, raw []byte) (Source, error) {
	// an absent block configures the zero value
	if raw == nil {
		raw = config.RawConfig{}
	}
	c, err := config.UnmarshalTo[T](raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid source configuration")
	}
	return (*c).CreateSource(ctx)
}
