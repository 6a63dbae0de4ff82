// Package valkey provides a Valkey-backed implementation of the record
// store for multi-instance deployments. Records carry native TTLs so
// expiry needs no janitor, and grant consumption uses GETDEL so exactly
// one concurrent redemption can succeed.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/Stealinglight/StravaMCP/internal/security"
	"github.com/Stealinglight/StravaMCP/internal/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "strava:"

	// tokenIDLogLength is how many token characters appear in debug logs.
	tokenIDLogLength = 8

	// connectionVerifyTimeout bounds the initial PING.
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379".
	Address string

	// Username is the optional username for ACL authentication.
	Username string

	// Password is the optional password for authentication.
	Password string

	// DB is the optional database number (default 0).
	DB int

	// KeyPrefix is the prefix for all keys (default "strava:").
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections.
	TLS *tls.Config

	// Logger is the optional structured logger (default slog.Default()).
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all record store interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor provides optional encryption at rest for token pair
	// records. Access is synchronized via encryptorMu.
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks.
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.GrantStore  = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a Valkey-backed store and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor enables encryption at rest for token pair records.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("token encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// ============================================================
// Key helpers
// ============================================================

// clientKey: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// clientIPKey: {prefix}client:ip:{ip}
func (s *Store) clientIPKey(ip string) string {
	return fmt.Sprintf("%sclient:ip:%s", s.prefix, ip)
}

// grantKey: {prefix}grant:{code}
func (s *Store) grantKey(code string) string {
	return fmt.Sprintf("%sgrant:%s", s.prefix, code)
}

// nonceKey: {prefix}nonce:{nonce}
func (s *Store) nonceKey(nonce string) string {
	return fmt.Sprintf("%snonce:%s", s.prefix, nonce)
}

// tokenKey: {prefix}token:{accessToken}
func (s *Store) tokenKey(accessToken string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, accessToken)
}

// refreshIndexKey: {prefix}refresh:{refreshToken}
func (s *Store) refreshIndexKey(refreshToken string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, refreshToken)
}

// isNilError checks for a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// calculateTTL converts an absolute expiry to a SET EX duration.
func calculateTTL(expiresAt time.Time) time.Duration {
	return time.Until(expiresAt)
}
