package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/florianilch/devpilot/internal/observability"
	"github.com/florianilch/devpilot/internal/projectfiles"
	"github.com/florianilch/devpilot/internal/tokenstore"
	"github.com/go-playground/validator/v10"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// EncryptionType selects how token values are protected at rest.
type EncryptionType string

const (
	EncryptionKeyring EncryptionType = "keyring"
	EncryptionEnv     EncryptionType = "env"
	EncryptionNone    EncryptionType = "none"
)

// KeyringService names the OS keyring entry holding the master key.
const KeyringService = "devpilot-token-key"

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigServerHost         = "127.0.0.1"
	DefaultConfigServerPort         = 4317
	DefaultConfigShutdownTimeout    = 5 * time.Second
	DefaultConfigTokenTTL           = tokenstore.DefaultTTL
	DefaultConfigTokenSweepInterval = tokenstore.DefaultSweepInterval
	DefaultConfigTokenEncryption    = EncryptionKeyring
	DefaultConfigTokenEnvKey        = "DEVPILOT_MASTER_KEY"
	DefaultConfigRemoteBaseURL      = "https://api.devpilot.dev/v1"
	DefaultConfigRemoteTokenURL     = "https://auth.devpilot.dev/oauth/token"
	DefaultConfigTelemetryExporter  = observability.ExporterNone
)

// ServerConfig holds local API server configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
	// AuthToken, when set, is required as a bearer token on every /v1 route.
	AuthToken string `json:"auth_token,omitempty"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// TokensConfig describes how to construct the token store.
type TokensConfig struct {
	File          string         `json:"file" validate:"required"`
	TTL           time.Duration  `json:"ttl" validate:"gt=0"`
	SweepInterval time.Duration  `json:"sweep_interval"` // Negative disables background sweeping
	Encryption    EncryptionType `json:"encryption" validate:"required,oneof=keyring env none"`

	KeyringUser string `json:"keyring_user,omitempty"` // For keyring encryption: keyring account
	EnvKey      string `json:"env_key,omitempty"`      // For env encryption: variable holding the master key
}

// ProjectsConfig overrides the file lister's allow-list and ignore-list.
type ProjectsConfig struct {
	Extensions  []string `json:"extensions,omitempty"`
	IgnoredDirs []string `json:"ignored_dirs,omitempty"`
}

// RemoteConfig holds remote API configuration.
type RemoteConfig struct {
	BaseURL  string `json:"base_url" validate:"required,url"`
	TokenURL string `json:"token_url" validate:"required,url"`
	ClientID string `json:"client_id,omitempty"`
}

// TelemetryConfig selects an OpenTelemetry log exporter.
type TelemetryConfig struct {
	Exporter observability.Exporter `json:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
	Endpoint string                 `json:"endpoint,omitempty" validate:"omitempty,url"`
}

// NewCipher creates the Cipher selected by the encryption setting.
func (t *TokensConfig) NewCipher() (tokenstore.Cipher, error) {
	switch t.Encryption {
	case EncryptionKeyring:
		return tokenstore.NewKeyringCipher(KeyringService, t.KeyringUser)
	case EncryptionEnv:
		return tokenstore.NewEnvCipher(t.EnvKey)
	case EncryptionNone:
		return tokenstore.UnavailableCipher{}, nil
	default:
		return nil, fmt.Errorf("unsupported encryption type: %s", t.Encryption)
	}
}

// NewTokenStore creates a Store backed by the configured file. No I/O is
// performed beyond creating the parent directory.
func (t *TokensConfig) NewTokenStore() (*tokenstore.Store, error) {
	cipher, err := t.NewCipher()
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	file, err := tokenstore.NewJSONFile(t.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create token file: %w", err)
	}

	return tokenstore.New(file, cipher,
		tokenstore.WithTTL(t.TTL),
		tokenstore.WithSweepInterval(t.SweepInterval),
	)
}

// NewLister creates a Lister honoring configured overrides.
func (p *ProjectsConfig) NewLister() *projectfiles.Lister {
	var opts []projectfiles.ListerOption
	if len(p.Extensions) > 0 {
		opts = append(opts, projectfiles.WithExtensions(p.Extensions...))
	}
	if len(p.IgnoredDirs) > 0 {
		opts = append(opts, projectfiles.WithIgnoredDirs(p.IgnoredDirs...))
	}
	return projectfiles.NewLister(opts...)
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Tokens    TokensConfig    `json:"tokens"`
	Projects  ProjectsConfig  `json:"projects"`
	Remote    RemoteConfig    `json:"remote"`
	Telemetry TelemetryConfig `json:"telemetry"`
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
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Tokens.TTL == 0 {
		c.Tokens.TTL = DefaultConfigTokenTTL
	}
	if c.Tokens.SweepInterval == 0 {
		c.Tokens.SweepInterval = DefaultConfigTokenSweepInterval
	}
	if c.Tokens.Encryption == "" {
		c.Tokens.Encryption = DefaultConfigTokenEncryption
	}
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = DefaultConfigRemoteBaseURL
	}
	if c.Remote.TokenURL == "" {
		c.Remote.TokenURL = DefaultConfigRemoteTokenURL
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}

	if c.Tokens.File == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("tokens.file required (auto-detect failed: %w)", err)
		}
		c.Tokens.File = filepath.Join(configDir, "devpilot", "tokens.json")
	}

	// Dynamic defaults based on encryption type
	switch c.Tokens.Encryption {
	case EncryptionKeyring:
		if c.Tokens.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("tokens.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Tokens.KeyringUser = currentUser.Username
		}
	case EncryptionEnv:
		if c.Tokens.EnvKey == "" {
			c.Tokens.EnvKey = DefaultConfigTokenEnvKey
		}
	case EncryptionNone:
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Tokens.Encryption {
	case EncryptionKeyring:
		if c.Tokens.KeyringUser == "" {
			return errors.New("keyring_user required for keyring encryption")
		}
	case EncryptionEnv:
		if c.Tokens.EnvKey == "" {
			return errors.New("env_key required for env encryption")
		}
	}

	if c.Telemetry.Exporter == observability.ExporterOTLPHTTP || c.Telemetry.Exporter == observability.ExporterOTLPGRPC {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint required for %s exporter", c.Telemetry.Exporter)
		}
	}

	return nil
}
