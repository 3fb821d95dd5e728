package keysource

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

var ErrNoProvider = errors.New("no key provider available")

// Provider resolves the process-wide paste encryption key. The key is
// fetched once at startup; there is no runtime rotation.
type Provider interface {
	ContentKey(ctx context.Context) ([]byte, error)
	Name() string
}

// Resolve picks the first configured provider: Vault KV, then AWS
// (Secrets Manager or a KMS-encrypted blob), then a local env key.
// With KEY_REQUIRE_MANAGED=true the env fallback is disabled, so a
// managed-provider outage fails startup instead of degrading.
func Resolve(ctx context.Context) (Provider, error) {
	requireManaged := strings.ToLower(os.Getenv("KEY_REQUIRE_MANAGED")) == "true"
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		vp, err := newVaultProvider(ctx)
		if err == nil {
			return vp, nil
		}
		if requireManaged {
			return nil, errors.Wrap(err, "vault provider")
		}
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		ap, err := newAWSProvider(ctx)
		if err == nil {
			return ap, nil
		}
		if requireManaged {
			return nil, errors.Wrap(err, "aws provider")
		}
	}
	if requireManaged {
		return nil, errors.Wrap(ErrNoProvider, "KEY_REQUIRE_MANAGED=true but neither Vault nor AWS is reachable")
	}
	if envKey := os.Getenv("ENCRYPTION_KEY"); envKey != "" {
		return &envProvider{encoded: envKey}, nil
	}
	return nil, ErrNoProvider
}

// ContentKey resolves a provider and fetches the key in one step,
// enforcing the expected size.
func ContentKey(ctx context.Context, keyLen int) ([]byte, Provider, error) {
	p, err := Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	key, err := p.ContentKey(ctx)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s provider", p.Name())
	}
	if len(key) != keyLen {
		return nil, nil, errors.Errorf("content key must be %d bytes, got %d", keyLen, len(key))
	}
	return key, p, nil
}

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = os.Getenv("VAULT_ADDR")
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, errors.Wrap(err, "read VAULT_TOKEN_FILE")
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, errors.Wrap(err, "vault health check")
	}
	return &vaultProvider{
		client:     client,
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/penne"),
	}, nil
}

func (v *vaultProvider) Name() string { return "vault" }

func (v *vaultProvider) ContentKey(ctx context.Context) ([]byte, error) {
	path := fmt.Sprintf("%s/%s", v.secretPath, "ENCRYPTION_KEY")
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, errors.Errorf("secret not found: %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return nil, errors.New("vault: value not found")
	}
	return base64.StdEncoding.DecodeString(value)
}

type awsProvider struct {
	kmsClient *kms.Client
	smClient  *secretsmanager.Client
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(os.Getenv("AWS_REGION")),
	)
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		kmsClient: kms.NewFromConfig(cfg),
		smClient:  secretsmanager.NewFromConfig(cfg),
	}, nil
}

func (a *awsProvider) Name() string { return "aws" }

// ContentKey prefers a Secrets Manager secret; if ENCRYPTION_KEY_CIPHERTEXT
// is set instead, that KMS-encrypted blob is decrypted directly.
func (a *awsProvider) ContentKey(ctx context.Context) ([]byte, error) {
	if blob := os.Getenv("ENCRYPTION_KEY_CIPHERTEXT"); blob != "" {
		raw, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return nil, errors.Wrap(err, "decode ENCRYPTION_KEY_CIPHERTEXT")
		}
		out, err := a.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: raw})
		if err != nil {
			return nil, errors.Wrap(err, "kms decrypt")
		}
		return out.Plaintext, nil
	}
	secretID := getEnvOrDefault("ENCRYPTION_KEY_SECRET_ID", "penne/encryption-key")
	result, err := a.smClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretID,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get secret %s", secretID)
	}
	if result.SecretString == nil {
		return nil, errors.New("secret is binary, not string")
	}
	return base64.StdEncoding.DecodeString(*result.SecretString)
}

type envProvider struct {
	encoded string
}

func (e *envProvider) Name() string { return "env" }

func (e *envProvider) ContentKey(ctx context.Context) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(e.encoded)
	if err != nil {
		return nil, errors.Wrap(err, "ENCRYPTION_KEY must be base64-encoded")
	}
	return key, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
