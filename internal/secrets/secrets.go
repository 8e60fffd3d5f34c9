// Package secrets resolves credentials by name from the environment or AWS
// Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cloo-solutions/taisearch/internal/retry"
)

var ErrSecretNotFound = errors.New("secret not found")

// Provider looks up a secret value by name.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (p *EnvProvider) Get(ctx context.Context, name string) (string, error) {
	v, ok := p.lookup(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider reads secrets from AWS Secrets Manager. Names may carry a
// "#field" suffix to pick one key out of a JSON secret.
type AWSProvider struct {
	client SecretsManagerAPI
}

func NewAWSProvider(ctx context.Context, region string) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &AWSProvider{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func NewAWSProviderWithClient(client SecretsManagerAPI) *AWSProvider {
	return &AWSProvider{client: client}
}

func (p *AWSProvider) Get(ctx context.Context, name string) (string, error) {
	secretID, field, _ := strings.Cut(name, "#")

	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", secretID, err)
	}
	raw := aws.ToString(out.SecretString)
	if raw == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, secretID)
	}
	return extractField(raw, field)
}

// extractField returns raw unchanged for plain-string secrets. For JSON
// object secrets it returns the named field, or the only field when field is
// empty and the object has exactly one entry.
func extractField(raw, field string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		if field != "" {
			return "", fmt.Errorf("secret is not a JSON object, cannot select field %q", field)
		}
		return raw, nil
	}

	if field == "" {
		if len(obj) != 1 {
			return raw, nil
		}
		for k := range obj {
			field = k
		}
	}
	v, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("%w: field %s", ErrSecretNotFound, field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret field %s is not a string", field)
	}
	return s, nil
}

// Resolve fetches a secret under the retry policy. Callers at startup treat
// the error as fatal.
func Resolve(ctx context.Context, p Provider, policy retry.Policy, name string) (string, error) {
	return retry.DoValue(ctx, policy, "secrets.get", func(ctx context.Context) (string, error) {
		return p.Get(ctx, name)
	})
}

// NewProvider builds the provider selected by kind ("env" or "aws").
func NewProvider(ctx context.Context, kind, region string) (Provider, error) {
	switch kind {
	case "", "env":
		return NewEnvProvider(), nil
	case "aws":
		return NewAWSProvider(ctx, region)
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", kind)
	}
}
