// Package secrets resolves sensitive config values from HashiCorp Vault at
// startup. It is entirely optional: with no Vault address configured every
// lookup falls back to the value already present in the config, so YAML-only
// deployments keep working.
package secrets

import (
	"fmt"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

type SecretManager struct {
	client *api.Client
	mount  string
	log    *zap.Logger
}

// NewSecretManager connects to Vault. mount is the KV v2 mount path the
// simulator's secrets live under (e.g. "secret").
func NewSecretManager(address, token, mount string, log *zap.Logger) (*SecretManager, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("secrets: vault client: %w", err)
	}
	client.SetToken(token)

	if mount == "" {
		mount = "secret"
	}
	return &SecretManager{client: client, mount: mount, log: log}, nil
}

// get reads one field from a KV v2 path, returning ok=false when the path
// or field is absent.
func (sm *SecretManager) get(path, field string) (string, bool) {
	secret, err := sm.client.Logical().Read(sm.mount + "/data/" + path)
	if err != nil || secret == nil {
		return "", false
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", false
	}
	value, ok := data[field].(string)
	return value, ok && value != ""
}

// Resolve returns the Vault-stored value for (path, field), or fallback
// when Vault does not have one.
func (sm *SecretManager) Resolve(path, field, fallback string) string {
	if value, ok := sm.get(path, field); ok {
		sm.log.Info("secret resolved from vault", zap.String("path", path), zap.String("field", field))
		return value
	}
	return fallback
}

// CSMSAuthSecret returns the OCPP upgrade-auth JWT secret.
func (sm *SecretManager) CSMSAuthSecret(fallback string) string {
	return sm.Resolve("csms", "auth_secret", fallback)
}

// StripeSecretKey returns the Stripe API key for the invoicing facade.
func (sm *SecretManager) StripeSecretKey(fallback string) string {
	return sm.Resolve("stripe", "secret_key", fallback)
}

// DatabaseURL returns the history store's connection string.
func (sm *SecretManager) DatabaseURL(fallback string) string {
	return sm.Resolve("database", "connection_string", fallback)
}
