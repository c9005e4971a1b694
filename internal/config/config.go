// Package config holds operator-level configuration for a dossier
// installation: data directory, vault encryption key, model backend,
// allowlist override, rate limits. Set via env vars (DOSSIER_*) or
// dossier.config.yaml.
//
// Tenant credentials (per-org provider API keys) never live here; they
// belong in the encrypted secrets vault (internal/secrets).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the DOSSIER_ prefix
// (e.g. "secrets_key" → DOSSIER_SECRETS_KEY) and to a YAML field in
// dossier.config.yaml.
const (
	KeyDataDir           = "data_dir"
	KeySecretsKey        = "secrets_key"
	KeyModel             = "model"
	KeyBackend           = "backend"
	KeyOllamaBaseURL     = "ollama_base_url"
	KeyEmbedModel        = "embed_model"
	KeyAllowlistOverride = "allowlist_override"
	KeyAllowlistMax      = "allowlist_max"
	KeyWebSearchBudget   = "web_search_budget"
	KeyGlobalRPM         = "global_rpm"
	KeyPerOrgRPM         = "per_org_rpm"
	KeyListenAddr        = "listen_addr"
	KeyAPIToken          = "api_token"
	KeyAccessDir         = "access_dir"
	KeyLearningWebhook   = "learning_webhook"
	KeyDispatchCron      = "dispatch_cron"
	KeyProviderAPIKey    = "provider_api_key"
)

// Defaults. The secrets key intentionally has none baked in; when unset
// we derive a deterministic per-machine fallback and warn loudly.
const (
	DefaultModel           = "gpt-4o"
	DefaultBackend         = "openai"
	DefaultOllamaURL       = "http://localhost:11434"
	DefaultEmbedModel      = "nomic-embed-text"
	DefaultAllowlistMax    = 20
	DefaultWebSearchBudget = 3
	DefaultGlobalRPM       = 120
	DefaultPerOrgRPM       = 30
	DefaultListenAddr      = ":8787"
)

// Config is the resolved operator configuration for one dossier process.
type Config struct {
	DataDir           string
	SecretsKey        string // AES-256 key for the vault, 32 bytes or 64 hex chars
	Model             string
	Backend           string // "openai" or "anthropic"
	OllamaBaseURL     string
	EmbedModel        string
	AllowlistOverride []string
	AllowlistMax      int
	WebSearchBudget   int
	GlobalRPM         int
	PerOrgRPM         int
	ListenAddr        string
	APIToken          string // bearer token for the HTTP API; empty disables auth
	AccessDir         string // base directory for access-context files
	LearningWebhook   string // learning-job sink URL; empty logs jobs instead
	DispatchCron      string // cron schedule for the learning-job dispatcher
	ProviderAPIKey    string // shared provider key; orgs may override via the vault

	usingDefaultSecretsKey bool
}

// UsingDefaultSecretsKey reports whether the vault key was derived
// rather than set explicitly.
func (c *Config) UsingDefaultSecretsKey() bool {
	return c.usingDefaultSecretsKey
}

// RunDBPath returns the full path to the run SQLite database.
func (c *Config) RunDBPath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// SecretsDBPath returns the full path to the secrets SQLite database.
func (c *Config) SecretsDBPath() string {
	return filepath.Join(c.DataDir, "secrets.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when the vault key is derived.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSecretsKey {
		log.Warn().Msg("Using generated default DOSSIER_SECRETS_KEY; set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("DOSSIER")
	viper.AutomaticEnv()
	viper.SetDefault(KeyModel, DefaultModel)
	viper.SetDefault(KeyBackend, DefaultBackend)
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	viper.SetDefault(KeyEmbedModel, DefaultEmbedModel)
	viper.SetDefault(KeyAllowlistMax, DefaultAllowlistMax)
	viper.SetDefault(KeyWebSearchBudget, DefaultWebSearchBudget)
	viper.SetDefault(KeyGlobalRPM, DefaultGlobalRPM)
	viper.SetDefault(KeyPerOrgRPM, DefaultPerOrgRPM)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
}

// Load reads configuration from Viper (env vars, config file, defaults)
// and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:           resolveDataDir(),
		SecretsKey:        viper.GetString(KeySecretsKey),
		Model:             viper.GetString(KeyModel),
		Backend:           viper.GetString(KeyBackend),
		OllamaBaseURL:     viper.GetString(KeyOllamaBaseURL),
		EmbedModel:        viper.GetString(KeyEmbedModel),
		AllowlistOverride: splitList(viper.GetString(KeyAllowlistOverride)),
		AllowlistMax:      viper.GetInt(KeyAllowlistMax),
		WebSearchBudget:   viper.GetInt(KeyWebSearchBudget),
		GlobalRPM:         viper.GetInt(KeyGlobalRPM),
		PerOrgRPM:         viper.GetInt(KeyPerOrgRPM),
		ListenAddr:        viper.GetString(KeyListenAddr),
		APIToken:          viper.GetString(KeyAPIToken),
		AccessDir:         viper.GetString(KeyAccessDir),
		LearningWebhook:   viper.GetString(KeyLearningWebhook),
		DispatchCron:      viper.GetString(KeyDispatchCron),
		ProviderAPIKey:    viper.GetString(KeyProviderAPIKey),
	}
	if cfg.AccessDir == "" {
		cfg.AccessDir = cfg.DataDir
	}

	if cfg.SecretsKey == "" {
		cfg.SecretsKey = deriveDefaultKey(cfg.DataDir, "secrets-encryption")
		cfg.usingDefaultSecretsKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dossier"
	}
	return filepath.Join(home, ".dossier")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. Not cryptographically strong; it exists
// so a first run works out of the box while still encrypting the vault
// with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("dossier:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSecretsKey(c.SecretsKey); err != nil {
		return err
	}
	switch c.Backend {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("backend must be openai or anthropic (got %q)", c.Backend)
	}
	if c.AllowlistMax <= 0 {
		return fmt.Errorf("allowlist_max must be positive")
	}
	if c.WebSearchBudget < 0 {
		return fmt.Errorf("web_search_budget must not be negative")
	}
	return nil
}

// validateSecretsKey accepts either 32 raw bytes or 64 hex characters
// (decoding to 32 bytes for AES-256).
func validateSecretsKey(key string) error {
	if len(key) == 32 {
		return nil
	}
	if len(key) == 64 {
		if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
			return nil
		}
	}
	return fmt.Errorf("secrets_key must be exactly 32 bytes or 64 hex characters (got %d); set DOSSIER_SECRETS_KEY", len(key))
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
