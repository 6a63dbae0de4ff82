package auth

import (
	"context"
	"crypto/subtle"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Stealinglight/StravaMCP/internal/storage"
)

// RegisterClient handles RFC 7591 dynamic registration. Only public clients
// are issued: the auth method is always "none" and no secret exists.
func (s *Server) RegisterClient(ctx context.Context, req *ClientRegistrationRequest, clientIP string) (*ClientRegistrationResponse, *OAuthError) {
	if !s.registrationLimiter.Allow(clientIP) {
		s.auditor.LogRateLimitExceeded(clientIP, "registration")
		if s.inst != nil {
			s.inst.Metrics().RecordRateLimitExceeded(ctx, "registration")
		}
		return nil, ErrRateLimitExceeded("too many registration requests")
	}

	if s.config.MaxClientsPerIP > 0 {
		count, err := s.store.CountClientsByIP(ctx, clientIP)
		if err != nil {
			s.logger.Error("client IP count failed", "error", err)
			return nil, ErrServerError("storage unavailable")
		}
		if count >= s.config.MaxClientsPerIP {
			s.auditor.LogRegistrationRejected(clientIP, "per-IP client limit reached")
			return nil, ErrRateLimitExceeded("registration limit reached")
		}
	}

	if len(req.RedirectURIs) == 0 {
		s.auditor.LogRegistrationRejected(clientIP, "no redirect URIs")
		return nil, ErrInvalidRequest("redirect_uris is required and must not be empty")
	}
	for _, uri := range req.RedirectURIs {
		if !s.redirectURIAllowed(uri) {
			s.auditor.LogRegistrationRejected(clientIP, "redirect URI not on allow-list")
			return nil, ErrInvalidRedirectURI("redirect_uri not permitted")
		}
		if err := s.validateRedirectURISecurity(uri); err != nil {
			s.auditor.LogRegistrationRejected(clientIP, err.Error())
			return nil, ErrInvalidRedirectURI(err.Error())
		}
	}

	// Confidential registration is not offered; reject an explicit
	// request for it rather than silently downgrading.
	if req.TokenEndpointAuthMethod != "" && req.TokenEndpointAuthMethod != "none" {
		return nil, ErrInvalidRequest("only token_endpoint_auth_method 'none' is supported")
	}

	clientID, err := GenerateToken(clientIDBytes)
	if err != nil {
		s.logger.Error("failed to generate client ID", "error", err)
		return nil, ErrServerError("failed to register client")
	}

	now := time.Now()
	client := &storage.Client{
		ID:           clientID,
		Name:         req.ClientName,
		RedirectURIs: req.RedirectURIs,
		AuthMethod:   "none",
		RegisteredIP: clientIP,
		CreatedAt:    now,
	}
	if err := s.store.SaveClient(ctx, client); err != nil {
		s.logger.Error("failed to save client", "error", err)
		return nil, ErrServerError("storage unavailable")
	}

	s.auditor.LogClientRegistered(clientID, clientIP, len(req.RedirectURIs))
	if s.inst != nil {
		s.inst.Metrics().RecordClientRegistration(ctx)
	}
	s.logger.Info("client registered",
		"client_id", clientID,
		"client_name", req.ClientName,
		"redirect_uris", len(req.RedirectURIs))

	return &ClientRegistrationResponse{
		ClientID:                clientID,
		ClientIDIssuedAt:        now.Unix(),
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   req.Scope,
	}, nil
}

// RegistrationGateEnabled reports whether POST /register requires a token.
func (s *Server) RegistrationGateEnabled() bool {
	return s.config.RegistrationToken != "" || s.config.RegistrationTokenHash != ""
}

// CheckRegistrationToken validates the bearer credential on a registration
// request. A configured bcrypt hash takes precedence over the plaintext
// token; the plaintext path compares in constant time.
func (s *Server) CheckRegistrationToken(candidate string) bool {
	if !s.RegistrationGateEnabled() {
		return true
	}
	if candidate == "" {
		return false
	}

	if s.config.RegistrationTokenHash != "" {
		return bcrypt.CompareHashAndPassword(
			[]byte(s.config.RegistrationTokenHash), []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare(
		[]byte(s.config.RegistrationToken), []byte(candidate)) == 1
}
