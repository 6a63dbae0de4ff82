package auth

import (
	"testing"

	"github.com/Stealinglight/StravaMCP/internal/storage"
	"github.com/Stealinglight/StravaMCP/internal/storage/memory"
)

func newValidationServer(t *testing.T, config *Config) *Server {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := New(store, config, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func TestRedirectURIAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		uri       string
		want      bool
	}{
		{
			name:      "empty list allows anything",
			allowList: nil,
			uri:       "https://client.example.com/callback",
			want:      true,
		},
		{
			name:      "exact match",
			allowList: []string{"https://client.example.com/callback"},
			uri:       "https://client.example.com/callback",
			want:      true,
		},
		{
			name:      "exact match rejects extra path",
			allowList: []string{"https://client.example.com/callback"},
			uri:       "https://client.example.com/callback/extra",
			want:      false,
		},
		{
			name:      "wildcard prefix match",
			allowList: []string{"https://client.example.com/*"},
			uri:       "https://client.example.com/any/path",
			want:      true,
		},
		{
			name:      "wildcard prefix rejects other host",
			allowList: []string{"https://client.example.com/*"},
			uri:       "https://evil.example.com/callback",
			want:      false,
		},
		{
			name:      "custom scheme on list",
			allowList: []string{"cursor://anysphere.cursor-retrieval/oauth/callback"},
			uri:       "cursor://anysphere.cursor-retrieval/oauth/callback",
			want:      true,
		},
		{
			name:      "not on list",
			allowList: []string{"https://a.example.com/cb", "https://b.example.com/cb"},
			uri:       "https://c.example.com/cb",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newValidationServer(t, &Config{AllowedRedirectURIs: tt.allowList})
			if got := srv.redirectURIAllowed(tt.uri); got != tt.want {
				t.Errorf("redirectURIAllowed(%q) = %v, want %v", tt.uri, got, tt.want)
			}
		})
	}
}

func TestValidateRedirectURISecurity(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		production bool
		wantErr    bool
	}{
		{name: "https URI", uri: "https://client.example.com/callback"},
		{name: "http in development", uri: "http://client.example.com/callback"},
		{name: "http loopback in production", uri: "http://localhost:8090/callback", production: true},
		{name: "http 127.0.0.1 in production", uri: "http://127.0.0.1:8090/callback", production: true},
		{name: "http IPv6 loopback in production", uri: "http://[::1]:8090/callback", production: true},
		{name: "http non-loopback in production", uri: "http://client.example.com/callback", production: true, wantErr: true},
		{name: "custom app scheme", uri: "myapp://oauth/callback"},
		{name: "javascript scheme", uri: "javascript:alert(1)", wantErr: true},
		{name: "data scheme", uri: "data:text/html,x", wantErr: true},
		{name: "file scheme", uri: "file:///etc/passwd", wantErr: true},
		{name: "fragment", uri: "https://client.example.com/callback#frag", wantErr: true},
		{name: "relative URI", uri: "/callback", wantErr: true},
		{name: "https without host", uri: "https:///callback", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newValidationServer(t, &Config{Production: tt.production})
			err := srv.validateRedirectURISecurity(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRedirectURISecurity(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRedirectURIRequiresRegistration(t *testing.T) {
	srv := newValidationServer(t, &Config{})

	client := &storage.Client{
		ID:           "client-1",
		RedirectURIs: []string{"https://client.example.com/callback"},
	}

	if err := srv.validateRedirectURI(client, "https://client.example.com/callback"); err != nil {
		t.Errorf("registered URI rejected: %v", err)
	}
	if err := srv.validateRedirectURI(client, "https://other.example.com/callback"); err == nil {
		t.Error("unregistered URI accepted")
	}
}

func TestIsLoopbackHostname(t *testing.T) {
	tests := []struct {
		hostname string
		want     bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.0.0.53", true},
		{"::1", true},
		{"[::1]", true},
		{"client.example.com", false},
		{"192.168.1.10", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isLoopbackHostname(tt.hostname); got != tt.want {
			t.Errorf("isLoopbackHostname(%q) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}
