package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/claudine-credentials/internal/credentials"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogExporter selects where OpenTelemetry log records are exported. Empty disables export.
type LogExporter string

const (
	LogExporterNone     LogExporter = ""
	LogExporterStdout   LogExporter = "stdout"
	LogExporterOTLPHTTP LogExporter = "otlp-http"
	LogExporterOTLPGRPC LogExporter = "otlp-grpc"
)

// PromptPolicy decides whether loads may show a keychain prompt.
type PromptPolicy string

const (
	// PromptPolicyAuto prompts only when stdin is a terminal.
	PromptPolicyAuto   PromptPolicy = "auto"
	PromptPolicyAlways PromptPolicy = "always"
	PromptPolicyNever  PromptPolicy = "never"
)

// CacheBackend selects where cached records are persisted.
type CacheBackend string

const (
	CacheBackendKeyring CacheBackend = "keyring"
	// CacheBackendMemory keeps the cache isolated in process memory.
	CacheBackendMemory CacheBackend = "memory"
)

// Default configuration values
const (
	DefaultConfigLogFormat        = LogFormatText
	DefaultConfigShutdownTimeout  = 5 * time.Second
	DefaultConfigProvider         = "claude"
	DefaultConfigCredentialKind   = "oauth"
	DefaultConfigProviderKey      = credentials.DefaultProviderKey
	DefaultConfigEnvKey           = "CLAUDE_CODE_OAUTH_TOKEN"
	DefaultConfigKeychainService  = "Claude Code-credentials"
	DefaultConfigPromptPolicy     = PromptPolicyAuto
	DefaultConfigCacheBackend     = CacheBackendKeyring
	DefaultConfigCacheService     = "claudine-credentials-cache"
	DefaultConfigCacheAbsentTTL   = 5 * time.Minute
	DefaultConfigCredentialsFile  = ".credentials.json"
	DefaultConfigClaudeConfigDir  = ".claude"
	claudeConfigDirEnvironmentKey = "CLAUDE_CONFIG_DIR"
)

// CredentialsConfig describes the credential identity and its file source.
type CredentialsConfig struct {
	File        string `json:"file" validate:"required"`
	Provider    string `json:"provider" validate:"required"`
	Kind        string `json:"kind" validate:"required"`
	ProviderKey string `json:"provider_key" validate:"required"` // Top-level JSON key of the OAuth block
	EnvKey      string `json:"env_key,omitempty"`                // Empty disables the env override
}

// KeychainConfig describes the secure-store item holding the credentials.
type KeychainConfig struct {
	Service string       `json:"service" validate:"required"`
	Account string       `json:"account" validate:"required"`
	Prompt  PromptPolicy `json:"prompt" validate:"oneof=auto always never"`
}

// CacheConfig configures the credential cache.
type CacheConfig struct {
	Backend CacheBackend `json:"backend" validate:"oneof=keyring memory"`
	Service string       `json:"service"` // Keyring service for the keyring backend
	// AbsentTTL bounds how long an empty secure store is remembered. Zero
	// selects DefaultConfigCacheAbsentTTL; markers never live forever.
	AbsentTTL time.Duration `json:"absent_ttl" validate:"gte=0"`
}

// ExpiryConfig configures expiry checks.
type ExpiryConfig struct {
	// Leeway treats tokens as expired this long before expiresAt.
	Leeway time.Duration `json:"leeway" validate:"gte=0"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for flushing telemetry on exit.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level        `json:"log_level"`
	LogFormat   LogFormat         `json:"log_format" validate:"oneof=text json"`
	LogExporter LogExporter       `json:"log_exporter" validate:"omitempty,oneof=stdout otlp-http otlp-grpc"`
	Credentials CredentialsConfig `json:"credentials"`
	Keychain    KeychainConfig    `json:"keychain"`
	Cache       CacheConfig       `json:"cache"`
	Expiry      ExpiryConfig      `json:"expiry"`
	Shutdown    ShutdownConfig    `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Credentials.Provider == "" {
		c.Credentials.Provider = DefaultConfigProvider
	}
	if c.Credentials.Kind == "" {
		c.Credentials.Kind = DefaultConfigCredentialKind
	}
	if c.Credentials.ProviderKey == "" {
		c.Credentials.ProviderKey = DefaultConfigProviderKey
	}
	if c.Credentials.EnvKey == "" {
		c.Credentials.EnvKey = DefaultConfigEnvKey
	}
	if c.Keychain.Service == "" {
		c.Keychain.Service = DefaultConfigKeychainService
	}
	if c.Keychain.Prompt == "" {
		c.Keychain.Prompt = DefaultConfigPromptPolicy
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultConfigCacheBackend
	}
	if c.Cache.Service == "" {
		c.Cache.Service = DefaultConfigCacheService
	}
	if c.Cache.AbsentTTL == 0 {
		c.Cache.AbsentTTL = DefaultConfigCacheAbsentTTL
	}

	// Dynamic defaults based on the environment
	if c.Credentials.File == "" {
		configDir := os.Getenv(claudeConfigDirEnvironmentKey)
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("credentials.file required (auto-detect failed: %w)", err)
			}
			configDir = filepath.Join(home, DefaultConfigClaudeConfigDir)
		}
		c.Credentials.File = filepath.Join(configDir, DefaultConfigCredentialsFile)
	}
	if c.Keychain.Account == "" {
		currentUser, err := user.Current()
		if err != nil {
			return fmt.Errorf("keychain.account required (auto-detect failed: %w)", err)
		}
		c.Keychain.Account = currentUser.Username
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Cache.Backend == CacheBackendKeyring && c.Cache.Service == "" {
		return errors.New("cache.service required for keyring cache backend")
	}
	if c.Cache.Backend == CacheBackendKeyring && c.Cache.Service == c.Keychain.Service {
		return errors.New("cache.service must differ from keychain.service")
	}

	return nil
}
