package auth

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Stealinglight/StravaMCP/internal/instrumentation"
	"github.com/Stealinglight/StravaMCP/internal/security"
	"github.com/Stealinglight/StravaMCP/internal/storage"
	"github.com/Stealinglight/StravaMCP/internal/util"
)

// Byte sizes for generated credentials.
const (
	clientIDBytes     = 24
	grantCodeBytes    = 32
	accessTokenBytes  = 32
	refreshTokenBytes = 32
	consentNonceBytes = 24
)

// AuthorizeRequest carries the parameters of an authorization request. The
// same struct is validated at GET (form render) and again at POST (grant
// mint); nothing is trusted across that boundary except the consent nonce.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ExchangeRequest carries the authorization_code grant parameters.
type ExchangeRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// startSpan opens a flow span when tracing is wired; otherwise it returns
// the span already on the context.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

// finishSpan closes a flow span, mapping the OAuth error (if any) onto it.
func finishSpan(span trace.Span, oerr *OAuthError) {
	if oerr != nil {
		instrumentation.RecordError(span, oerr)
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, oerr.Code))
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

// ResolveClientAndRedirect looks up the client and validates the redirect
// URI. Callers must not redirect an error to a URI that fails here.
func (s *Server) ResolveClientAndRedirect(ctx context.Context, clientID, redirectURI string) (*storage.Client, *OAuthError) {
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	if redirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		s.logger.Error("client lookup failed", "error", err)
		return nil, ErrServerError("storage unavailable")
	}

	if err := s.validateRedirectURI(client, redirectURI); err != nil {
		s.logger.Debug("redirect URI rejected",
			"client_id", clientID,
			"redirect_uri", redirectURI,
			"reason", err)
		return nil, ErrInvalidRedirectURI("redirect_uri is not registered for this client")
	}
	return client, nil
}

// ValidateAuthorizeParams checks the remaining authorization parameters.
// The returned error is safe to deliver on the (already validated)
// redirect URI.
func (s *Server) ValidateAuthorizeParams(req *AuthorizeRequest) *OAuthError {
	if req.ResponseType != "code" {
		return ErrInvalidRequest("response_type must be 'code'")
	}
	if req.CodeChallenge == "" {
		return ErrInvalidRequest("code_challenge is required")
	}
	if req.CodeChallengeMethod != "S256" {
		return ErrInvalidRequest("code_challenge_method must be 'S256'")
	}
	return nil
}

// StartConsent mints the single-use nonce embedded in the consent form.
// The nonce is stored server-side so the GET and POST may land on
// different instances sharing a Valkey store.
func (s *Server) StartConsent(ctx context.Context) (string, *OAuthError) {
	nonce, err := GenerateToken(consentNonceBytes)
	if err != nil {
		s.logger.Error("failed to generate consent nonce", "error", err)
		return "", ErrServerError("failed to start authorization")
	}

	expiresAt := time.Now().Add(time.Duration(s.config.ConsentNonceTTL) * time.Second)
	if err := s.store.SaveConsentNonce(ctx, nonce, expiresAt); err != nil {
		s.logger.Error("failed to save consent nonce", "error", err)
		return "", ErrServerError("storage unavailable")
	}
	return nonce, nil
}

// ApproveAuthorization consumes the consent nonce, re-validates the request
// from scratch, and mints an authorization grant. Returns the grant code
// for the redirect.
func (s *Server) ApproveAuthorization(ctx context.Context, req *AuthorizeRequest, consentNonce, clientIP string) (code string, oerr *OAuthError) {
	ctx, span := s.startSpan(ctx, "auth.approve_authorization")
	instrumentation.AddFlowAttributes(span, req.ClientID, "", req.Scope)
	defer func() { finishSpan(span, oerr) }()

	if consentNonce == "" {
		return "", ErrInvalidRequest("missing consent nonce")
	}
	if err := s.store.ConsumeConsentNonce(ctx, consentNonce); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogEvent(securityEvent(req.ClientID, clientIP, "consent nonce rejected"))
			return "", ErrInvalidRequest("consent form expired, restart the authorization")
		}
		s.logger.Error("consent nonce lookup failed", "error", err)
		return "", ErrServerError("storage unavailable")
	}

	client, oerr := s.ResolveClientAndRedirect(ctx, req.ClientID, req.RedirectURI)
	if oerr != nil {
		return "", oerr
	}
	if oerr := s.ValidateAuthorizeParams(req); oerr != nil {
		return "", oerr
	}

	code, err := GenerateToken(grantCodeBytes)
	if err != nil {
		s.logger.Error("failed to generate grant code", "error", err)
		return "", ErrServerError("failed to issue authorization code")
	}

	now := time.Now()
	grant := &storage.Grant{
		Code:                code,
		ClientID:            client.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.config.GrantTTL) * time.Second),
	}
	if err := s.store.SaveGrant(ctx, grant); err != nil {
		s.logger.Error("failed to save grant", "error", err)
		return "", ErrServerError("storage unavailable")
	}

	if err := s.store.TouchClient(ctx, client.ID, now); err != nil {
		// Last-used bookkeeping must not fail the flow.
		s.logger.Warn("failed to touch client", "client_id", client.ID, "error", err)
	}

	s.auditor.LogGrantIssued(client.ID, clientIP, req.Scope)
	if s.inst != nil {
		s.inst.Metrics().RecordGrantIssued(ctx, client.ID)
	}

	s.logger.Info("authorization grant issued",
		"client_id", client.ID,
		"code_prefix", util.SafeTruncate(code, 8))
	return code, nil
}

// ExchangeAuthorizationCode redeems a grant for a token pair. The grant is
// consumed before any check runs, so a failed redemption still burns the
// code and a replay always sees invalid_grant.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *ExchangeRequest, clientIP string) (resp *TokenResponse, oerr *OAuthError) {
	ctx, span := s.startSpan(ctx, "auth.exchange_code")
	instrumentation.AddFlowAttributes(span, req.ClientID, "authorization_code", "")
	defer func() { finishSpan(span, oerr) }()

	if req.Code == "" || req.ClientID == "" || req.RedirectURI == "" || req.CodeVerifier == "" {
		return nil, ErrInvalidRequest("code, client_id, redirect_uri, and code_verifier are required")
	}

	grant, err := s.store.ConsumeGrant(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("grant redemption failed: unknown, expired, or replayed code",
				"client_id", req.ClientID,
				"code_prefix", util.SafeTruncate(req.Code, 8))
			s.recordExchange(ctx, req.ClientID, false)
			return nil, ErrInvalidGrant("invalid or expired authorization code")
		}
		s.logger.Error("grant consumption failed", "error", err)
		return nil, ErrServerError("storage unavailable")
	}

	// From here the grant is burned. Every failure is a generic
	// invalid_grant to the client; detail stays in the debug log.
	if grant.ClientID != req.ClientID {
		s.logger.Debug("grant redemption failed: client mismatch",
			"expected", grant.ClientID, "got", req.ClientID)
		s.recordExchange(ctx, req.ClientID, false)
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}
	if grant.RedirectURI != req.RedirectURI {
		s.logger.Debug("grant redemption failed: redirect_uri mismatch",
			"client_id", req.ClientID)
		s.recordExchange(ctx, req.ClientID, false)
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}
	if time.Now().After(grant.ExpiresAt) {
		s.logger.Debug("grant redemption failed: grant expired",
			"client_id", req.ClientID)
		s.recordExchange(ctx, req.ClientID, false)
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}
	if err := VerifyPKCE(req.CodeVerifier, grant.CodeChallenge); err != nil {
		s.logger.Debug("grant redemption failed: PKCE verification",
			"client_id", req.ClientID, "reason", err)
		s.auditor.LogPKCEFailure(req.ClientID, clientIP, err.Error())
		if s.inst != nil {
			s.inst.Metrics().RecordPKCEValidationFailed(ctx)
		}
		s.recordExchange(ctx, req.ClientID, false)
		return nil, ErrInvalidGrant("invalid or expired authorization code")
	}

	pair, oerr := s.mintTokenPair(ctx, grant.ClientID, grant.Scope)
	if oerr != nil {
		return nil, oerr
	}

	if err := s.store.TouchClient(ctx, grant.ClientID, time.Now()); err != nil {
		s.logger.Warn("failed to touch client", "client_id", grant.ClientID, "error", err)
	}

	s.auditor.LogTokenIssued(grant.ClientID, clientIP, grant.Scope)
	s.recordExchange(ctx, grant.ClientID, true)

	s.logger.Info("token pair issued",
		"client_id", grant.ClientID,
		"access_prefix", util.SafeTruncate(pair.AccessToken, 8))

	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.config.AccessTokenTTL,
		RefreshToken: pair.RefreshToken,
		Scope:        pair.Scope,
	}, nil
}

// RefreshAccessToken issues a new access token against an existing refresh
// token. The refresh token is reused as-is with its original expiry; there
// is no rotation. The refresh index moves to the new record, but the
// previous access token is not revoked; it remains valid until its own
// expiry.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, clientIP string) (resp *TokenResponse, oerr *OAuthError) {
	ctx, span := s.startSpan(ctx, "auth.refresh_token")
	instrumentation.AddFlowAttributes(span, clientID, "refresh_token", "")
	defer func() { finishSpan(span, oerr) }()

	if refreshToken == "" || clientID == "" {
		return nil, ErrInvalidRequest("refresh_token and client_id are required")
	}

	old, err := s.store.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("refresh failed: unknown refresh token", "client_id", clientID)
			s.recordRefresh(ctx, clientID, false)
			return nil, ErrInvalidGrant("invalid or expired refresh token")
		}
		s.logger.Error("refresh token lookup failed", "error", err)
		return nil, ErrServerError("storage unavailable")
	}

	if old.ClientID != clientID {
		s.logger.Debug("refresh failed: client mismatch",
			"expected", old.ClientID, "got", clientID)
		s.recordRefresh(ctx, clientID, false)
		return nil, ErrInvalidGrant("invalid or expired refresh token")
	}
	now := time.Now()
	if now.After(old.RefreshExpiresAt) {
		s.logger.Debug("refresh failed: refresh token expired", "client_id", clientID)
		s.recordRefresh(ctx, clientID, false)
		return nil, ErrInvalidGrant("invalid or expired refresh token")
	}

	accessToken, err := GenerateToken(accessTokenBytes)
	if err != nil {
		s.logger.Error("failed to generate access token", "error", err)
		return nil, ErrServerError("failed to issue token")
	}

	// The new access expiry never outlives the untouched refresh expiry.
	accessExpiresAt := now.Add(time.Duration(s.config.AccessTokenTTL) * time.Second)
	if accessExpiresAt.After(old.RefreshExpiresAt) {
		accessExpiresAt = old.RefreshExpiresAt
	}

	renewed := &storage.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     old.RefreshToken,
		ClientID:         old.ClientID,
		Scope:            old.Scope,
		CreatedAt:        now,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: old.RefreshExpiresAt,
	}
	// Saving re-points the refresh index at the new record. The old
	// record is left in place: its access token stays valid until its
	// own expiry and the janitor collects it once it is superseded.
	if err := s.store.SaveTokenPair(ctx, renewed); err != nil {
		s.logger.Error("failed to save renewed token pair", "error", err)
		return nil, ErrServerError("storage unavailable")
	}

	if err := s.store.TouchClient(ctx, old.ClientID, now); err != nil {
		s.logger.Warn("failed to touch client", "client_id", old.ClientID, "error", err)
	}

	s.auditor.LogTokenRefreshed(old.ClientID, clientIP)
	s.recordRefresh(ctx, old.ClientID, true)

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(accessExpiresAt).Seconds()),
		RefreshToken: old.RefreshToken,
		Scope:        old.Scope,
	}, nil
}

// ValidateAccessToken checks a bearer token. Unknown or expired tokens
// return invalid_token; storage failures return a 500-class error, never
// an authentication failure.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (*TokenInfo, *OAuthError) {
	if accessToken == "" {
		return nil, ErrInvalidToken("missing access token")
	}

	pair, err := s.store.GetByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken("invalid access token")
		}
		s.logger.Error("access token lookup failed", "error", err)
		return nil, ErrServerError("storage unavailable")
	}

	if time.Now().After(pair.AccessExpiresAt) {
		return nil, ErrInvalidToken("access token expired")
	}

	return &TokenInfo{
		ClientID:  pair.ClientID,
		Scope:     pair.Scope,
		ExpiresAt: pair.AccessExpiresAt,
	}, nil
}

// CheckTokenRate applies the per-IP limiter for the token endpoint.
func (s *Server) CheckTokenRate(ctx context.Context, clientIP string) *OAuthError {
	if s.tokenLimiter.Allow(clientIP) {
		return nil
	}
	s.auditor.LogRateLimitExceeded(clientIP, "token")
	if s.inst != nil {
		s.inst.Metrics().RecordRateLimitExceeded(ctx, "token")
	}
	return ErrRateLimitExceeded("too many requests")
}

// mintTokenPair generates and persists a fresh access/refresh pair.
func (s *Server) mintTokenPair(ctx context.Context, clientID, scope string) (*storage.TokenPair, *OAuthError) {
	accessToken, err := GenerateToken(accessTokenBytes)
	if err != nil {
		s.logger.Error("failed to generate access token", "error", err)
		return nil, ErrServerError("failed to issue token")
	}
	refreshToken, err := GenerateToken(refreshTokenBytes)
	if err != nil {
		s.logger.Error("failed to generate refresh token", "error", err)
		return nil, ErrServerError("failed to issue token")
	}

	now := time.Now()
	pair := &storage.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ClientID:         clientID,
		Scope:            scope,
		CreatedAt:        now,
		AccessExpiresAt:  now.Add(time.Duration(s.config.AccessTokenTTL) * time.Second),
		RefreshExpiresAt: now.Add(time.Duration(s.config.RefreshTokenTTL) * time.Second),
	}
	if err := s.store.SaveTokenPair(ctx, pair); err != nil {
		s.logger.Error("failed to save token pair", "error", err)
		return nil, ErrServerError("storage unavailable")
	}
	return pair, nil
}

func (s *Server) recordExchange(ctx context.Context, clientID string, success bool) {
	if s.inst != nil {
		s.inst.Metrics().RecordCodeExchange(ctx, clientID, success)
	}
}

func (s *Server) recordRefresh(ctx context.Context, clientID string, success bool) {
	if s.inst != nil {
		s.inst.Metrics().RecordTokenRefresh(ctx, clientID, success)
	}
}

func securityEvent(clientID, ip, reason string) security.Event {
	return security.Event{
		Type:      security.EventConsentNonceRejected,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"reason": reason},
	}
}
