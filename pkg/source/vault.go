package source

import (
	"context"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds configuration for connecting to HashiCorp Vault
type VaultConfig struct {
	Address   string `yaml:"address"`
	Token     string `yaml:"token"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	// KeyPrefix is prepended to every secret name, e.g. "db." turns "password" into "db.password".
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// Validate checks if the VaultConfig has all required fields set
func (v VaultConfig) Validate() error {
	if v.Address == "" {
		return errors.New("Vault address is required")
	}
	if v.Token == "" {
		return errors.New("Vault token is required")
	}
	if v.Path == "" {
		return errors.New("Vault path is required")
	}
	return nil
}

// CreateClient creates and configures a Vault client from this config.
func (v VaultConfig) CreateClient() (*api.Client, error) {
	if err := v.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid Vault configuration")
	}

	config := api.DefaultConfig()
	config.Address = v.Address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Vault client")
	}

	client.SetToken(v.Token)
	if v.Namespace != "" {
		client.SetNamespace(v.Namespace)
	}
	return client, nil
}

// CreateSource creates a VaultSource with a new client.
func (v VaultConfig) CreateSource(context.Context) (Source, error) {
	client, err := v.CreateClient()
	if err != nil {
		return nil, err
	}
	return NewVaultSource(client, v.Path, v.KeyPrefix), nil
}

// VaultSource reads every field of one Vault secret as a key/value pair.
// Supports both KV v1 and KV v2 secret engines.
type VaultSource struct {
	logical   *api.Logical
	path      string
	keyPrefix string
}

// NewVaultSource creates a new Vault-based source
//
// Parameters:
//   - client: Configured Vault API client
//   - path: The Vault path to read, e.g. "secret/data/myapp"
//   - keyPrefix: Prefix added to every field name, may be empty
func NewVaultSource(client *api.Client, path, keyPrefix string) *VaultSource {
	return &VaultSource{
		logical:   client.Logical(),
		path:      path,
		keyPrefix: keyPrefix,
	}
}

// Pairs reads the secret and returns its fields.
func (v *VaultSource) Pairs(ctx context.Context) ([]cfg.Pair, error) {
	secret, err := v.logical.ReadWithContext(ctx, v.path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read secret from Vault path %q", v.path)
	}
	if secret == nil || secret.Data == nil {
		return nil, errors.Errorf("no secret found at Vault path %q", v.path)
	}

	// KV v2 nests the fields under "data"
	data := secret.Data
	if nested, ok := secret.Data["data"]; ok && nested != nil {
		dataMap, ok := nested.(map[string]any)
		if !ok {
			return nil, errors.New("unexpected data format in KV v2 secret")
		}
		data = dataMap
	}

	store, err := cfg.FromMap(data)
	if err != nil {
		return nil, err
	}
	pairs, err := store.RawPairs()
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		pairs[i].Key = v.keyPrefix + pairs[i].Key
	}
	log.Debug().
		Str("vault_path", v.path).
		Int("entries", len(pairs)).
		Msg("Retrieved secrets from Vault")
	return pairs, nil
}

// Name returns the source name
func (v *VaultSource) Name() string {
	return "Vault " + v.path
}
