// Package memory provides an in-memory implementation of the record store.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Stealinglight/StravaMCP/internal/instrumentation"
	"github.com/Stealinglight/StravaMCP/internal/security"
	"github.com/Stealinglight/StravaMCP/internal/storage"
)

// Store is an in-memory implementation of all record store interfaces.
type Store struct {
	mu sync.RWMutex

	clients      map[string]*storage.Client
	clientsPerIP map[string]int

	grants        map[string]*storage.Grant
	consentNonces map[string]time.Time // nonce -> expiry

	tokens       map[string]*storage.TokenPair // access token -> pair
	refreshIndex map[string]string             // refresh token -> access token

	// Atomic counters mirror map sizes so metric callbacks are lock-free.
	clientsCount atomic.Int64
	grantsCount  atomic.Int64
	tokensCount  atomic.Int64

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.GrantStore  = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates an in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates an in-memory store with a custom cleanup interval.
// Non-positive intervals fall back to 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientsPerIP:    make(map[string]int),
		grants:          make(map[string]*storage.Grant),
		consentNonces:   make(map[string]time.Time),
		tokens:          make(map[string]*storage.TokenPair),
		refreshIndex:    make(map[string]string),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation wires OpenTelemetry instrumentation into the store.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.clientsCount.Store(int64(len(s.clients)))
	s.grantsCount.Store(int64(len(s.grants)))
	s.tokensCount.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCount.Load() },
			func() int64 { return s.grantsCount.Load() },
			func() int64 { return s.tokensCount.Load() },
		)
		if err != nil {
			s.logger.Warn("failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient saves a registered client and tracks its registration IP.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startSpan(ctx, "save_client")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "save_client", err, start) }()

	if client == nil || client.ID == "" {
		err = fmt.Errorf("client ID cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ID]
	s.clients[client.ID] = client
	if !existed {
		s.clientsCount.Add(1)
		if client.RegisteredIP != "" {
			s.clientsPerIP[client.RegisteredIP]++
		}
	}

	s.logger.Debug("saved client", "client_id", client.ID)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "get_client")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "get_client", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}
	return client, nil
}

// TouchClient updates the client's last-used timestamp.
func (s *Store) TouchClient(ctx context.Context, clientID string, usedAt time.Time) error {
	ctx, span := s.startSpan(ctx, "touch_client")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "touch_client", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = storage.ErrNotFound
		return err
	}
	client.LastUsedAt = usedAt
	return nil
}

// CountClientsByIP returns the number of clients registered from an IP.
func (s *Store) CountClientsByIP(ctx context.Context, ip string) (int, error) {
	ctx, span := s.startSpan(ctx, "count_clients_by_ip")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "count_clients_by_ip", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientsPerIP[ip], nil
}

// ============================================================
// GrantStore
// ============================================================

// SaveGrant saves an authorization grant keyed by its code.
func (s *Store) SaveGrant(ctx context.Context, grant *storage.Grant) error {
	ctx, span := s.startSpan(ctx, "save_grant")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "save_grant", err, start) }()

	if grant == nil || grant.Code == "" {
		err = fmt.Errorf("grant code cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.grants[grant.Code]
	s.grants[grant.Code] = grant
	if !existed {
		s.grantsCount.Add(1)
	}
	return nil
}

// ConsumeGrant atomically retrieves and deletes a grant. A single write lock
// covers both steps so two concurrent redemptions cannot both succeed.
func (s *Store) ConsumeGrant(ctx context.Context, code string) (*storage.Grant, error) {
	ctx, span := s.startSpan(ctx, "consume_grant")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "consume_grant", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[code]
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}

	delete(s.grants, code)
	s.grantsCount.Add(-1)

	if security.IsExpired(grant.ExpiresAt) {
		err = storage.ErrNotFound
		return nil, err
	}
	return grant, nil
}

// SaveConsentNonce stores a single-use consent nonce.
func (s *Store) SaveConsentNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	ctx, span := s.startSpan(ctx, "save_consent_nonce")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "save_consent_nonce", err, start) }()

	if nonce == "" {
		err = fmt.Errorf("nonce cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.consentNonces[nonce] = expiresAt
	return nil
}

// ConsumeConsentNonce atomically retrieves and deletes a consent nonce.
func (s *Store) ConsumeConsentNonce(ctx context.Context, nonce string) error {
	ctx, span := s.startSpan(ctx, "consume_consent_nonce")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "consume_consent_nonce", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.consentNonces[nonce]
	if !ok {
		err = storage.ErrNotFound
		return err
	}
	delete(s.consentNonces, nonce)

	if security.IsExpired(expiresAt) {
		err = storage.ErrNotFound
		return err
	}
	return nil
}

// ============================================================
// TokenStore
// ============================================================

// SaveTokenPair saves a token pair and indexes its refresh token.
func (s *Store) SaveTokenPair(ctx context.Context, pair *storage.TokenPair) error {
	ctx, span := s.startSpan(ctx, "save_token_pair")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "save_token_pair", err, start) }()

	if pair == nil || pair.AccessToken == "" {
		err = fmt.Errorf("access token cannot be empty")
		return err
	}
	if pair.RefreshToken == "" {
		err = fmt.Errorf("refresh token cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tokens[pair.AccessToken]
	s.tokens[pair.AccessToken] = pair
	s.refreshIndex[pair.RefreshToken] = pair.AccessToken
	if !existed {
		s.tokensCount.Add(1)
	}
	return nil
}

// GetByAccessToken retrieves a pair by access token.
func (s *Store) GetByAccessToken(ctx context.Context, accessToken string) (*storage.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "get_by_access_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "get_by_access_token", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.tokens[accessToken]
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}
	return pair, nil
}

// GetByRefreshToken retrieves a pair through the refresh token index.
func (s *Store) GetByRefreshToken(ctx context.Context, refreshToken string) (*storage.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "get_by_refresh_token")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "get_by_refresh_token", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, ok := s.refreshIndex[refreshToken]
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}
	pair, ok := s.tokens[accessToken]
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}
	return pair, nil
}

// DeleteTokenPair removes a pair and its refresh index entry. The refresh
// index is only removed when it still points at this access token; deleting
// a superseded record must not disturb the index entry of its successor.
func (s *Store) DeleteTokenPair(ctx context.Context, accessToken string) error {
	ctx, span := s.startSpan(ctx, "delete_token_pair")
	defer span.End()

	start := time.Now()
	var err error
	defer func() { s.recordOp(ctx, span, "delete_token_pair", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	pair, ok := s.tokens[accessToken]
	if !ok {
		return nil
	}
	delete(s.tokens, accessToken)
	s.tokensCount.Add(-1)

	if current, ok := s.refreshIndex[pair.RefreshToken]; ok && current == accessToken {
		delete(s.refreshIndex, pair.RefreshToken)
	}
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, grant := range s.grants {
		if security.IsExpired(grant.ExpiresAt) {
			delete(s.grants, code)
			s.grantsCount.Add(-1)
			cleaned++
		}
	}

	for nonce, expiresAt := range s.consentNonces {
		if security.IsExpired(expiresAt) {
			delete(s.consentNonces, nonce)
			cleaned++
		}
	}

	// A pair whose refresh index still points at it is only removed once
	// the refresh token is also dead; an expired access token with a live
	// refresh token is still refreshable. A superseded pair (the index has
	// moved on after a refresh) is removed as soon as its access token
	// expires.
	for accessToken, pair := range s.tokens {
		current, indexed := s.refreshIndex[pair.RefreshToken]
		superseded := !indexed || current != accessToken
		if security.IsExpired(pair.RefreshExpiresAt) ||
			(superseded && security.IsExpired(pair.AccessExpiresAt)) {
			delete(s.tokens, accessToken)
			s.tokensCount.Add(-1)
			if !superseded {
				delete(s.refreshIndex, pair.RefreshToken)
			}
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("cleaned up expired records", "count", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageBackend, "memory"),
		))
}

func (s *Store) recordOp(ctx context.Context, span trace.Span, operation string, err error, start time.Time) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	if s.inst == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	s.inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Milliseconds()))
}
