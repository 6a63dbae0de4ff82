package auth

import "testing"

func TestApplySecureDefaults(t *testing.T) {
	config := &Config{}
	config.ApplySecureDefaults()

	if config.GrantTTL != DefaultGrantTTL {
		t.Errorf("GrantTTL = %d, want %d", config.GrantTTL, DefaultGrantTTL)
	}
	if config.ConsentNonceTTL != DefaultConsentNonceTTL {
		t.Errorf("ConsentNonceTTL = %d, want %d", config.ConsentNonceTTL, DefaultConsentNonceTTL)
	}
	if config.AccessTokenTTL != DefaultAccessTokenTTL {
		t.Errorf("AccessTokenTTL = %d, want %d", config.AccessTokenTTL, DefaultAccessTokenTTL)
	}
	if config.RefreshTokenTTL != DefaultRefreshTokenTTL {
		t.Errorf("RefreshTokenTTL = %d, want %d", config.RefreshTokenTTL, DefaultRefreshTokenTTL)
	}
	if config.MaxClientsPerIP != DefaultMaxClientsPerIP {
		t.Errorf("MaxClientsPerIP = %d, want %d", config.MaxClientsPerIP, DefaultMaxClientsPerIP)
	}
	if config.RateLimitRPS != DefaultRateLimitRPS {
		t.Errorf("RateLimitRPS = %d, want %d", config.RateLimitRPS, DefaultRateLimitRPS)
	}
	if len(config.SupportedScopes) != 1 || config.SupportedScopes[0] != "mcp" {
		t.Errorf("SupportedScopes = %v, want [mcp]", config.SupportedScopes)
	}
}

func TestApplySecureDefaultsKeepsExplicitValues(t *testing.T) {
	config := &Config{
		GrantTTL:        60,
		AccessTokenTTL:  600,
		RefreshTokenTTL: 7200,
	}
	config.ApplySecureDefaults()

	if config.GrantTTL != 60 {
		t.Errorf("GrantTTL = %d, want 60", config.GrantTTL)
	}
	if config.AccessTokenTTL != 600 {
		t.Errorf("AccessTokenTTL = %d, want 600", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != 7200 {
		t.Errorf("RefreshTokenTTL = %d, want 7200", config.RefreshTokenTTL)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			config: Config{},
		},
		{
			name: "refresh TTL shorter than access TTL",
			config: Config{
				AccessTokenTTL:  3600,
				RefreshTokenTTL: 60,
			},
			wantErr: true,
		},
		{
			name: "equal TTLs are valid",
			config: Config{
				AccessTokenTTL:  3600,
				RefreshTokenTTL: 3600,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.ApplySecureDefaults()
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	store := newTestStore(t)

	_, err := New(store, &Config{AccessTokenTTL: 3600, RefreshTokenTTL: 60}, nil)
	if err == nil {
		t.Fatal("New() accepted refresh TTL shorter than access TTL")
	}
}
