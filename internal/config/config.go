// Package config loads the gateway configuration from an optional YAML
// file with environment variable overrides. Environment always wins over
// the file so deployments can keep secrets out of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Auth    AuthConfig    `yaml:"auth"`
	Gateway GatewayConfig `yaml:"gateway"`
	Storage StorageConfig `yaml:"storage"`
	Strava  StravaConfig  `yaml:"strava"`
}

// ServerConfig shapes the HTTP listener.
type ServerConfig struct {
	Addr              string `yaml:"addr"`
	TrustProxyHeaders bool   `yaml:"trust_proxy_headers"`
	TrustedProxyCount int    `yaml:"trusted_proxy_count"`
	ShutdownTimeout   int64  `yaml:"shutdown_timeout_seconds"`
}

// LogConfig shapes slog output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// AuthConfig shapes the embedded OAuth authorization server. TTLs are in
// seconds.
type AuthConfig struct {
	Issuer                string   `yaml:"issuer"`
	GrantTTL              int64    `yaml:"grant_ttl_seconds"`
	ConsentNonceTTL       int64    `yaml:"consent_nonce_ttl_seconds"`
	AccessTokenTTL        int64    `yaml:"access_token_ttl_seconds"`
	RefreshTokenTTL       int64    `yaml:"refresh_token_ttl_seconds"`
	AllowedRedirectURIs   []string `yaml:"allowed_redirect_uris"`
	RegistrationToken     string   `yaml:"registration_token"`
	RegistrationTokenHash string   `yaml:"registration_token_hash"`
	MaxClientsPerIP       int      `yaml:"max_clients_per_ip"`
	RateLimitRPS          int      `yaml:"rate_limit_rps"`
	RateLimitBurst        int      `yaml:"rate_limit_burst"`
	SupportedScopes       []string `yaml:"supported_scopes"`
	Production            bool     `yaml:"production"`
	AuditEnabled          bool     `yaml:"audit_enabled"`
}

// GatewayConfig shapes the admission middleware.
type GatewayConfig struct {
	// Secret is the static shared secret. Empty disables the scheme.
	Secret string `yaml:"secret"`
	// OAuthEnabled turns the embedded authorization server on.
	OAuthEnabled bool `yaml:"oauth_enabled"`
}

// StorageConfig selects and shapes the record store backend.
type StorageConfig struct {
	// Backend is "memory" or "valkey".
	Backend string `yaml:"backend"`

	ValkeyAddress  string `yaml:"valkey_address"`
	ValkeyUsername string `yaml:"valkey_username"`
	ValkeyPassword string `yaml:"valkey_password"`
	ValkeyDB       int    `yaml:"valkey_db"`

	// EncryptionKey is a base64-encoded 32-byte AES key for encrypting
	// token records at rest. Empty disables encryption.
	EncryptionKey string `yaml:"encryption_key"`
}

// StravaConfig holds the upstream Strava API credentials.
type StravaConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// Load reads the config file at path (if non-empty), applies environment
// overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays STRAVAMCP_* and STRAVA_* environment variables.
func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "STRAVAMCP_ADDR")
	setBool(&c.Server.TrustProxyHeaders, "STRAVAMCP_TRUST_PROXY_HEADERS")
	setInt(&c.Server.TrustedProxyCount, "STRAVAMCP_TRUSTED_PROXY_COUNT")

	setString(&c.Log.Level, "STRAVAMCP_LOG_LEVEL")
	setString(&c.Log.Format, "STRAVAMCP_LOG_FORMAT")

	setString(&c.Auth.Issuer, "STRAVAMCP_ISSUER")
	setInt64(&c.Auth.AccessTokenTTL, "STRAVAMCP_ACCESS_TOKEN_TTL")
	setInt64(&c.Auth.RefreshTokenTTL, "STRAVAMCP_REFRESH_TOKEN_TTL")
	setInt64(&c.Auth.GrantTTL, "STRAVAMCP_GRANT_TTL")
	setString(&c.Auth.RegistrationToken, "STRAVAMCP_REGISTRATION_TOKEN")
	setString(&c.Auth.RegistrationTokenHash, "STRAVAMCP_REGISTRATION_TOKEN_HASH")
	setBool(&c.Auth.Production, "STRAVAMCP_PRODUCTION")
	setBool(&c.Auth.AuditEnabled, "STRAVAMCP_AUDIT_ENABLED")
	if v := os.Getenv("STRAVAMCP_ALLOWED_REDIRECT_URIS"); v != "" {
		c.Auth.AllowedRedirectURIs = splitAndTrim(v)
	}

	setString(&c.Gateway.Secret, "STRAVAMCP_GATEWAY_SECRET")
	setBool(&c.Gateway.OAuthEnabled, "STRAVAMCP_OAUTH_ENABLED")

	setString(&c.Storage.Backend, "STRAVAMCP_STORAGE_BACKEND")
	setString(&c.Storage.ValkeyAddress, "STRAVAMCP_VALKEY_ADDRESS")
	setString(&c.Storage.ValkeyUsername, "STRAVAMCP_VALKEY_USERNAME")
	setString(&c.Storage.ValkeyPassword, "STRAVAMCP_VALKEY_PASSWORD")
	setInt(&c.Storage.ValkeyDB, "STRAVAMCP_VALKEY_DB")
	setString(&c.Storage.EncryptionKey, "STRAVAMCP_ENCRYPTION_KEY")

	setString(&c.Strava.ClientID, "STRAVA_CLIENT_ID")
	setString(&c.Strava.ClientSecret, "STRAVA_CLIENT_SECRET")
	setString(&c.Strava.RefreshToken, "STRAVA_REFRESH_TOKEN")
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.ValkeyAddress == "" {
		c.Storage.ValkeyAddress = "localhost:6379"
	}
}

// Validate rejects inconsistent configurations. Auth TTL consistency is
// checked again by the auth server with its own defaults applied.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}

	switch c.Storage.Backend {
	case "memory", "valkey":
	default:
		return fmt.Errorf("invalid storage backend %q (memory or valkey)", c.Storage.Backend)
	}

	if c.Auth.RefreshTokenTTL > 0 && c.Auth.AccessTokenTTL > c.Auth.RefreshTokenTTL {
		return fmt.Errorf("access token TTL (%ds) must not exceed refresh token TTL (%ds)",
			c.Auth.AccessTokenTTL, c.Auth.RefreshTokenTTL)
	}

	if !c.stravaConfigured() && !c.stravaEmpty() {
		return fmt.Errorf("strava credentials are incomplete: client_id, client_secret, and refresh_token must all be set")
	}
	return nil
}

// StravaEnabled reports whether upstream credentials are present. Without
// them the server starts, but the tools return a configuration error.
func (c *Config) StravaEnabled() bool {
	return c.stravaConfigured()
}

func (c *Config) stravaConfigured() bool {
	return c.Strava.ClientID != "" && c.Strava.ClientSecret != "" && c.Strava.RefreshToken != ""
}

func (c *Config) stravaEmpty() bool {
	return c.Strava.ClientID == "" && c.Strava.ClientSecret == "" && c.Strava.RefreshToken == ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
