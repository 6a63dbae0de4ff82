// Package storage defines the record store used by the authorization server:
// registered clients, pending authorization grants, and issued token pairs.
// Backends include in-memory (single instance) and Valkey (shared).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist or has expired.
// Callers must not translate it into an authentication failure directly;
// the auth layer decides the client-facing error.
var ErrNotFound = errors.New("storage: record not found")

// ClientStore persists dynamically registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client keyed by client ID.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID. Returns ErrNotFound if unknown.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// TouchClient updates the client's LastUsedAt timestamp.
	TouchClient(ctx context.Context, clientID string, usedAt time.Time) error

	// CountClientsByIP returns how many clients were registered from an IP,
	// used to enforce the per-IP registration limit.
	CountClientsByIP(ctx context.Context, ip string) (int, error)
}

// GrantStore persists short-lived authorization grants and consent nonces.
// All methods accept context.Context for tracing and cancellation.
type GrantStore interface {
	// SaveGrant saves an authorization grant keyed by its code.
	SaveGrant(ctx context.Context, grant *Grant) error

	// ConsumeGrant atomically retrieves and deletes a grant. The grant is
	// removed on the first redemption attempt whether or not the caller's
	// subsequent checks succeed, so a code can never be replayed. Returns
	// ErrNotFound when the code is unknown, expired, or already consumed.
	// SECURITY: must be atomic to prevent concurrent code exchange.
	ConsumeGrant(ctx context.Context, code string) (*Grant, error)

	// SaveConsentNonce stores a single-use consent nonce with an expiry.
	SaveConsentNonce(ctx context.Context, nonce string, expiresAt time.Time) error

	// ConsumeConsentNonce atomically retrieves and deletes a consent nonce.
	// Returns ErrNotFound when the nonce is unknown, expired, or already used.
	ConsumeConsentNonce(ctx context.Context, nonce string) error
}

// TokenStore persists issued token pairs, keyed by access token with a
// secondary index on the refresh token.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveTokenPair saves a token pair keyed by its access token and
	// indexes the refresh token.
	SaveTokenPair(ctx context.Context, pair *TokenPair) error

	// GetByAccessToken retrieves a pair by access token.
	GetByAccessToken(ctx context.Context, accessToken string) (*TokenPair, error)

	// GetByRefreshToken retrieves a pair through the refresh token index.
	GetByRefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)

	// DeleteTokenPair removes a pair and its refresh index entry.
	DeleteTokenPair(ctx context.Context, accessToken string) error
}

// Store aggregates the three collections. Backends implement all of them;
// the auth server only depends on the narrow interfaces.
type Store interface {
	ClientStore
	GrantStore
	TokenStore
}

// Client is a dynamically registered OAuth client. Only public clients are
// supported, so there is no secret to store.
type Client struct {
	ID           string    `json:"client_id"`
	Name         string    `json:"client_name,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	AuthMethod   string    `json:"token_endpoint_auth_method"`
	RegisteredIP string    `json:"registered_ip,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at,omitempty"`
}

// HasRedirectURI reports whether uri is one of the client's registered
// redirect URIs, using exact string comparison.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// Grant is a pending authorization grant awaiting redemption at the token
// endpoint. CodeChallengeMethod is always "S256".
type Grant struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// TokenPair is an issued access/refresh token pair. AccessExpiresAt never
// exceeds RefreshExpiresAt.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ClientID         string    `json:"client_id"`
	Scope            string    `json:"scope,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
