package auth

import "fmt"

// Default TTLs in seconds.
const (
	DefaultGrantTTL        = 300      // 5 minutes
	DefaultConsentNonceTTL = 120      // 2 minutes
	DefaultAccessTokenTTL  = 3600     // 1 hour
	DefaultRefreshTokenTTL = 2592000  // 30 days
	DefaultMaxClientsPerIP = 10
	DefaultRateLimitRPS    = 5
	DefaultRateLimitBurst  = 10
)

// Config holds the authorization server configuration. TTLs are in seconds.
type Config struct {
	// Issuer overrides the issuer URL in discovery metadata. When empty,
	// the issuer is derived from each request's effective base URL,
	// honoring X-Forwarded-Proto and X-Forwarded-Host.
	Issuer string

	// GrantTTL is the authorization grant lifetime.
	GrantTTL int64

	// ConsentNonceTTL is the lifetime of the single-use consent form nonce.
	ConsentNonceTTL int64

	// AccessTokenTTL is the access token lifetime.
	AccessTokenTTL int64

	// RefreshTokenTTL is the refresh token lifetime. Must not be shorter
	// than AccessTokenTTL; every stored pair keeps its access expiry at
	// or before its refresh expiry.
	RefreshTokenTTL int64

	// AllowedRedirectURIs is the global redirect allow-list applied at
	// registration and on every authorize/token validation. Entries match
	// exactly, or as a prefix when they end in "*". An empty list imposes
	// no allow-list beyond the URI security rules.
	AllowedRedirectURIs []string

	// RegistrationToken gates POST /register when set. Compared in
	// constant time against the bearer token on the request.
	RegistrationToken string

	// RegistrationTokenHash is a bcrypt hash alternative to
	// RegistrationToken, for operators who keep no plaintext in config.
	// When both are set, the hash wins.
	RegistrationTokenHash string

	// MaxClientsPerIP bounds dynamic registrations per source IP.
	// Zero disables the limit.
	MaxClientsPerIP int

	// RateLimitRPS and RateLimitBurst shape the per-IP limiter on the
	// registration and token endpoints.
	RateLimitRPS   int
	RateLimitBurst int

	// SupportedScopes lists scopes echoed in discovery metadata. Scopes
	// are recorded and echoed, not enforced.
	SupportedScopes []string

	// TrustProxyHeaders enables X-Forwarded-* handling for client IPs and
	// base URL derivation. Only set behind a trusted reverse proxy.
	TrustProxyHeaders bool

	// TrustedProxyCount is how many proxies at the right of the
	// X-Forwarded-For chain are ours.
	TrustedProxyCount int

	// Production requires HTTPS redirect URIs except for loopback hosts.
	Production bool

	// AuditEnabled turns on security audit logging.
	AuditEnabled bool
}

// ApplySecureDefaults fills zero values with the secure defaults.
func (c *Config) ApplySecureDefaults() {
	if c.GrantTTL <= 0 {
		c.GrantTTL = DefaultGrantTTL
	}
	if c.ConsentNonceTTL <= 0 {
		c.ConsentNonceTTL = DefaultConsentNonceTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.MaxClientsPerIP == 0 {
		c.MaxClientsPerIP = DefaultMaxClientsPerIP
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = DefaultRateLimitRPS
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = DefaultRateLimitBurst
	}
	if len(c.SupportedScopes) == 0 {
		c.SupportedScopes = []string{"mcp"}
	}
}

// Validate rejects inconsistent configurations.
func (c *Config) Validate() error {
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return fmt.Errorf("refresh token TTL (%ds) must not be shorter than access token TTL (%ds)",
			c.RefreshTokenTTL, c.AccessTokenTTL)
	}
	if c.GrantTTL <= 0 {
		return fmt.Errorf("grant TTL must be positive")
	}
	return nil
}
