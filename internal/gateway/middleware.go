package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/Stealinglight/StravaMCP/internal/auth"
	"github.com/Stealinglight/StravaMCP/internal/instrumentation"
	"github.com/Stealinglight/StravaMCP/internal/security"
	"github.com/Stealinglight/StravaMCP/internal/util"
)

// TokenValidator checks OAuth access tokens. Satisfied by *auth.Server.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, accessToken string) (*auth.TokenInfo, *auth.OAuthError)
}

// publicPaths pass the middleware without credentials. The OAuth endpoints
// must stay reachable or no client could ever obtain a token.
var publicPaths = []string{
	"/healthz",
	"/register",
	"/authorize",
	"/token",
}

const publicPathPrefix = "/.well-known/"

// MiddlewareConfig shapes the admission policy.
type MiddlewareConfig struct {
	// GatewaySecret is the static shared secret. Empty disables the
	// scheme.
	GatewaySecret string

	// Validator checks OAuth bearer tokens. Nil disables the scheme.
	Validator TokenValidator

	// Registry matches POST /message requests to live sessions.
	Registry *Registry
}

// Middleware is the single admission policy in front of the MCP transport.
// Three credential schemes are reconciled in a fixed order: live session,
// static secret, OAuth bearer token.
type Middleware struct {
	config   MiddlewareConfig
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
	warnOpen sync.Once
}

// NewMiddleware creates the admission middleware.
func NewMiddleware(config MiddlewareConfig, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{config: config, logger: logger}
}

// SetInstrumentation wires OpenTelemetry instrumentation.
func (m *Middleware) SetInstrumentation(inst *instrumentation.Instrumentation) {
	m.inst = inst
}

// Wrap applies the admission policy to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		// A POST /message bound to a live session was authenticated
		// when the session's SSE stream was opened.
		if r.Method == http.MethodPost && r.URL.Path == MessagePath && m.config.Registry != nil {
			if id := r.URL.Query().Get("session_id"); id != "" {
				if _, ok := m.config.Registry.Get(id); ok {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		token := auth.ExtractBearerToken(r, true)

		if m.config.GatewaySecret != "" && token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(m.config.GatewaySecret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		if m.config.Validator != nil && token != "" {
			info, oerr := m.config.Validator.ValidateAccessToken(r.Context(), token)
			if oerr == nil {
				m.logger.Debug("request authenticated",
					"client_id", info.ClientID,
					"path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}
			// A storage outage is not a credential failure. Refusing
			// with 401 here would make clients discard good tokens.
			if oerr.Status >= http.StatusInternalServerError {
				m.logger.Error("token validation unavailable",
					"path", r.URL.Path,
					"error", oerr.Description)
				writeServiceError(w)
				return
			}
		}

		// Open-gateway mode: nothing to check credentials against.
		if m.config.GatewaySecret == "" && m.config.Validator == nil {
			m.warnOpen.Do(func() {
				m.logger.Warn("gateway is running without authentication; configure a gateway secret or enable OAuth")
			})
			next.ServeHTTP(w, r)
			return
		}

		m.logger.Debug("request rejected",
			"path", r.URL.Path,
			"token_prefix", util.SafeTruncate(token, 8))
		if m.inst != nil {
			m.inst.Metrics().RecordAuthFailure(r.Context(), r.URL.Path)
		}
		writeUnauthorized(w)
	})
}

func isPublicPath(path string) bool {
	if strings.HasPrefix(path, publicPathPrefix) {
		return true
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// writeUnauthorized emits the single uniform 401 body. Every credential
// failure looks identical so callers cannot probe which scheme ran.
func writeUnauthorized(w http.ResponseWriter) {
	security.SetSecurityHeaders(w, "")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "Unauthorized",
		"message": "valid credentials are required",
	})
}

func writeServiceError(w http.ResponseWriter) {
	security.SetSecurityHeaders(w, "")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "ServiceUnavailable",
		"message": "authentication backend unavailable",
	})
}
