package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v, want info/json", cfg.Log)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.StravaEnabled() {
		t.Error("StravaEnabled() = true with no credentials")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9090"
  trust_proxy_headers: true
log:
  level: debug
  format: text
auth:
  issuer: https://mcp.example.com
  registration_token: sekrit
  allowed_redirect_uris:
    - https://client.example.com/callback
    - cursor://*
gateway:
  secret: gw-secret
  oauth_enabled: true
storage:
  backend: valkey
  valkey_address: valkey.internal:6379
strava:
  client_id: "123"
  client_secret: abc
  refresh_token: tok
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if !cfg.Server.TrustProxyHeaders {
		t.Error("trust_proxy_headers not set")
	}
	if cfg.Auth.Issuer != "https://mcp.example.com" {
		t.Errorf("issuer = %q", cfg.Auth.Issuer)
	}
	if len(cfg.Auth.AllowedRedirectURIs) != 2 {
		t.Errorf("allow-list = %v", cfg.Auth.AllowedRedirectURIs)
	}
	if cfg.Gateway.Secret != "gw-secret" || !cfg.Gateway.OAuthEnabled {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Storage.Backend != "valkey" || cfg.Storage.ValkeyAddress != "valkey.internal:6379" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if !cfg.StravaEnabled() {
		t.Error("StravaEnabled() = false with full credentials")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9090"
strava:
  client_id: "123"
  client_secret: filesecret
  refresh_token: tok
`)

	t.Setenv("STRAVAMCP_ADDR", ":7070")
	t.Setenv("STRAVA_CLIENT_SECRET", "envsecret")
	t.Setenv("STRAVAMCP_ALLOWED_REDIRECT_URIS", "https://a.example.com/cb, https://b.example.com/cb")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q, want :7070 from env", cfg.Server.Addr)
	}
	if cfg.Strava.ClientSecret != "envsecret" {
		t.Errorf("client secret = %q, want env value", cfg.Strava.ClientSecret)
	}
	if len(cfg.Auth.AllowedRedirectURIs) != 2 || cfg.Auth.AllowedRedirectURIs[1] != "https://b.example.com/cb" {
		t.Errorf("allow-list = %v", cfg.Auth.AllowedRedirectURIs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:   "defaults pass",
			mutate: func(*Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "bad storage backend",
			mutate:  func(cfg *Config) { cfg.Storage.Backend = "postgres" },
			wantErr: true,
		},
		{
			name: "access TTL exceeds refresh TTL",
			mutate: func(cfg *Config) {
				cfg.Auth.AccessTokenTTL = 7200
				cfg.Auth.RefreshTokenTTL = 3600
			},
			wantErr: true,
		},
		{
			name: "partial strava credentials",
			mutate: func(cfg *Config) {
				cfg.Strava.ClientID = "123"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() accepted a missing file")
	}
}
