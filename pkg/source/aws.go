package source

import (
	"context"
	"encoding/json"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AWSConfig holds configuration for AWS Secrets Manager
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SecretName      string `yaml:"secret_name"`
	Endpoint        string `yaml:"endpoint"` // Optional: for LocalStack or custom endpoints
	KeyPrefix       string `yaml:"key_prefix,omitempty"`
}

// Validate checks if the AWSConfig has all required fields set
func (a AWSConfig) Validate() error {
	if a.Region == "" {
		return errors.New("AWS region is required")
	}
	if a.SecretName == "" {
		return errors.New("AWS secret name is required")
	}
	// AccessKeyID and SecretAccessKey are optional - if not provided, will use IAM role or default credentials
	return nil
}

// CreateClient creates and configures an AWS Secrets Manager client from this config.
func (a AWSConfig) CreateClient(ctx context.Context) (*secretsmanager.Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(a.Region),
	}
	if a.Endpoint != "" {
		configOpts = append(configOpts, config.WithBaseEndpoint(a.Endpoint))
	}
	if a.AccessKeyID != "" && a.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// CreateSource creates an AWSSource with a new client.
func (a AWSConfig) CreateSource(ctx context.Context) (Source, error) {
	client, err := a.CreateClient(ctx)
	if err != nil {
		return nil, err
	}
	return NewAWSSource(client, a.SecretName, a.KeyPrefix), nil
}

// SecretValueGetter is the part of the Secrets Manager client used by AWSSource.
type SecretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads one AWS Secrets Manager secret holding a flat JSON object and returns
// every member as a key/value pair. A secret that is not a JSON object becomes a single
// pair named after the secret.
type AWSSource struct {
	client     SecretValueGetter
	secretName string
	keyPrefix  string
}

// NewAWSSource creates a new AWS Secrets Manager-based source
//
// Parameters:
//   - client: Configured AWS Secrets Manager client
//   - secretName: The name of the secret in AWS Secrets Manager
//   - keyPrefix: Prefix added to every key, may be empty
func NewAWSSource(client SecretValueGetter, secretName, keyPrefix string) *AWSSource {
	return &AWSSource{
		client:     client,
		secretName: secretName,
		keyPrefix:  keyPrefix,
	}
}

// Pairs reads the secret and returns its members.
func (a *AWSSource) Pairs(ctx context.Context) ([]cfg.Pair, error) {
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretName),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read secret from AWS Secrets Manager: %q", a.secretName)
	}
	if result.SecretString == nil {
		return nil, errors.Errorf("secret %q has no string value", a.secretName)
	}

	var secretData map[string]any
	if err := json.Unmarshal([]byte(*result.SecretString), &secretData); err != nil {
		log.Debug().
			Str("secret_name", a.secretName).
			Msg("Retrieved secret from AWS Secrets Manager (plain text)")
		return []cfg.Pair{{Key: a.keyPrefix + a.secretName, Value: result.SecretString}}, nil
	}

	store, err := cfg.FromMap(secretData)
	if err != nil {
		return nil, err
	}
	pairs, err := store.RawPairs()
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		pairs[i].Key = a.keyPrefix + pairs[i].Key
	}
	log.Debug().
		Str("secret_name", a.secretName).
		Int("entries", len(pairs)).
		Msg("Retrieved secrets from AWS Secrets Manager")
	return pairs, nil
}

// Name returns the source name
func (a *AWSSource) Name() string {
	return "AWS Secrets Manager " + a.secretName
}
