package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds HashiCorp Vault connection settings. When disabled,
// secrets come from the environment alone.
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	AuthMethod string // "token", "kubernetes", "approle"
	MountPath  string
	SecretPath string
	Namespace  string
}

// GetVaultConfigFromEnv builds VaultConfig from VAULT_* environment
// variables. VAULT_ENABLED=true switches the loader on.
func GetVaultConfigFromEnv() VaultConfig {
	if os.Getenv("VAULT_ENABLED") != "true" {
		return VaultConfig{Enabled: false}
	}
	return VaultConfig{
		Enabled:    true,
		Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
		Token:      os.Getenv("VAULT_TOKEN"),
		AuthMethod: getEnvOrDefault("VAULT_AUTH_METHOD", "token"),
		MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
		SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "tradehawk/production"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
	}
}

// VaultClient wraps the Vault API client for secrets retrieval.
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates an authenticated Vault client.
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthMethod {
	case "token", "":
		if cfg.Token == "" {
			cfg.Token = os.Getenv("VAULT_TOKEN")
		}
		if cfg.Token == "" {
			return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
		}
		client.SetToken(cfg.Token)

	case "kubernetes":
		if err := authenticateKubernetes(client); err != nil {
			return nil, fmt.Errorf("kubernetes authentication failed: %w", err)
		}

	case "approle":
		if err := authenticateAppRole(client); err != nil {
			return nil, fmt.Errorf("AppRole authentication failed: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported Vault auth method: %s", cfg.AuthMethod)
	}

	log.Info().
		Str("address", cfg.Address).
		Str("auth_method", cfg.AuthMethod).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecret reads a secret map at a path relative to the configured base.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests payloads under "data".
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// LoadSecretsFromVault overlays Vault-held secrets onto the configuration.
// Missing paths are tolerated; env-provided values stay in place.
func LoadSecretsFromVault(ctx context.Context, cfg *Config, vaultCfg VaultConfig) error {
	if !vaultCfg.Enabled {
		log.Info().Msg("Vault integration disabled, using environment for secrets")
		return nil
	}

	vc, err := NewVaultClient(vaultCfg)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	if secrets, err := vc.GetSecret(ctx, "database"); err == nil {
		if password, ok := secrets["password"].(string); ok && password != "" {
			cfg.Database.Password = password
		}
		if user, ok := secrets["user"].(string); ok && user != "" {
			cfg.Database.User = user
		}
	} else {
		log.Warn().Err(err).Msg("Failed to load database secrets from Vault")
	}

	if secrets, err := vc.GetSecret(ctx, "redis"); err == nil {
		if password, ok := secrets["password"].(string); ok && password != "" {
			cfg.Redis.Password = password
		}
	} else {
		log.Warn().Err(err).Msg("Failed to load Redis secrets from Vault")
	}

	if secrets, err := vc.GetSecret(ctx, "robinhood"); err == nil {
		if apiKey, ok := secrets["api_key"].(string); ok && apiKey != "" {
			cfg.Robinhood.APIKey = apiKey
		}
		if privateKey, ok := secrets["private_key"].(string); ok && privateKey != "" {
			cfg.Robinhood.PrivateKey = privateKey
		}
	} else {
		log.Warn().Err(err).Msg("Failed to load Robinhood secrets from Vault")
	}

	if secrets, err := vc.GetSecret(ctx, "telegram"); err == nil {
		if token, ok := secrets["token"].(string); ok && token != "" {
			cfg.Alerts.TelegramToken = token
		}
	} else {
		log.Debug().Err(err).Msg("No telegram secrets in Vault")
	}

	log.Info().Msg("Secrets loaded from Vault")
	return nil
}

func authenticateKubernetes(client *vault.Client) error {
	jwtPath := "/var/run/secrets/kubernetes.io/serviceaccount/token"
	jwt, err := os.ReadFile(jwtPath)
	if err != nil {
		return fmt.Errorf("failed to read service account token: %w", err)
	}

	role := os.Getenv("VAULT_K8S_ROLE")
	if role == "" {
		role = "tradehawk"
	}

	secret, err := client.Logical().Write("auth/kubernetes/login", map[string]interface{}{
		"jwt":  string(jwt),
		"role": role,
	})
	if err != nil {
		return fmt.Errorf("failed to login with Kubernetes auth: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("kubernetes authentication returned no token")
	}

	client.SetToken(secret.Auth.ClientToken)
	return nil
}

func authenticateAppRole(client *vault.Client) error {
	roleID := os.Getenv("VAULT_ROLE_ID")
	secretID := os.Getenv("VAULT_SECRET_ID")
	if roleID == "" || secretID == "" {
		return fmt.Errorf("VAULT_ROLE_ID and VAULT_SECRET_ID must be set for AppRole authentication")
	}

	secret, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("AppRole authentication returned no token")
	}

	client.SetToken(secret.Auth.ClientToken)
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
