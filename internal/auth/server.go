// Package auth implements the gateway's own OAuth 2.1 authorization server:
// dynamic client registration, the consent-based authorization endpoint,
// PKCE-verified code exchange, and token refresh. Clients are always public
// (token_endpoint_auth_method "none"); possession of the code verifier is
// the proof of identity.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/Stealinglight/StravaMCP/internal/instrumentation"
	"github.com/Stealinglight/StravaMCP/internal/security"
	"github.com/Stealinglight/StravaMCP/internal/storage"
)

// Server is the authorization server core. HTTP handling lives in Handler;
// Server carries the flow logic and storage access.
type Server struct {
	store  storage.Store
	config *Config
	logger *slog.Logger

	auditor             *security.Auditor
	registrationLimiter *security.RateLimiter
	tokenLimiter        *security.RateLimiter

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

// New creates an authorization server. The config is defaulted and
// validated; a nil logger falls back to slog.Default.
func New(store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config.ApplySecureDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Server{
		store:               store,
		config:              config,
		logger:              logger,
		auditor:             security.NewAuditor(logger, config.AuditEnabled),
		registrationLimiter: security.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst, logger),
		tokenLimiter:        security.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst, logger),
	}, nil
}

// SetInstrumentation wires OpenTelemetry instrumentation into the server.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("auth")
	}
}

// Config exposes the effective configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Stop terminates the rate limiter goroutines.
func (s *Server) Stop() {
	s.registrationLimiter.Stop()
	s.tokenLimiter.Stop()
}

// clientIP extracts the request's client IP per the proxy trust settings.
func (s *Server) clientIP(r *http.Request) string {
	return security.GetClientIP(r, s.config.TrustProxyHeaders, s.config.TrustedProxyCount)
}
