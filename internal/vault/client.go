package vault

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config holds HashiCorp Vault configuration
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Client resolves provider API credentials. When Vault is enabled the keys
// live in one KV v2 secret keyed by provider name; otherwise they come from
// environment variables. Vault lookups fall back to the environment too, so
// a half-populated secret does not take providers down.
type Client struct {
	client *api.Client
	config Config

	mu    sync.RWMutex
	cache map[string]string
}

// NewClient creates a new credentials client
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		config: cfg,
		cache:  make(map[string]string),
	}

	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client

	return c, nil
}

// ProviderKey returns the API key for a named provider ("claude", "openai",
// "deepseek", "gemini", "alphavantage"). Missing keys return an empty string
// with no error; callers treat empty as "provider not configured".
func (c *Client) ProviderKey(ctx context.Context, name string) (string, error) {
	name = strings.ToLower(name)

	c.mu.RLock()
	if cached, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	key, err := c.lookup(ctx, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[name] = key
	c.mu.Unlock()
	return key, nil
}

func (c *Client) lookup(ctx context.Context, name string) (string, error) {
	if c.config.Enabled {
		path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
		secret, err := c.client.Logical().ReadWithContext(ctx, path)
		if err != nil {
			return "", fmt.Errorf("failed to read provider keys from vault: %w", err)
		}
		if secret != nil {
			if data, ok := secret.Data["data"].(map[string]interface{}); ok {
				if key, ok := data[name].(string); ok && key != "" {
					return key, nil
				}
			}
		}
	}

	return os.Getenv(envVarFor(name)), nil
}

func envVarFor(name string) string {
	switch name {
	case "claude":
		return "AI_CLAUDE_API_KEY"
	case "openai":
		return "AI_OPENAI_API_KEY"
	case "deepseek":
		return "AI_DEEPSEEK_API_KEY"
	case "gemini":
		return "AI_GEMINI_API_KEY"
	case "alphavantage":
		return "ALPHAVANTAGE_API_KEY"
	default:
		return strings.ToUpper(name) + "_API_KEY"
	}
}
