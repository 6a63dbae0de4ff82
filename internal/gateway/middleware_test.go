package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Stealinglight/StravaMCP/internal/auth"
)

type stubValidator struct {
	info *auth.TokenInfo
	err  *auth.OAuthError
}

func (v *stubValidator) ValidateAccessToken(_ context.Context, _ string) (*auth.TokenInfo, *auth.OAuthError) {
	return v.info, v.err
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestMiddlewarePublicPaths(t *testing.T) {
	paths := []string{
		"/healthz",
		"/.well-known/oauth-authorization-server",
		"/register",
		"/authorize",
		"/token",
	}

	m := NewMiddleware(MiddlewareConfig{GatewaySecret: "secret"}, nil)
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			next, called := okHandler()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			w := httptest.NewRecorder()

			m.Wrap(next).ServeHTTP(w, req)

			if !*called {
				t.Errorf("public path %s did not pass through", path)
			}
		})
	}
}

func TestMiddlewareSessionMatch(t *testing.T) {
	registry := NewRegistry(nil)
	session := registry.Create()

	m := NewMiddleware(MiddlewareConfig{
		GatewaySecret: "secret",
		Registry:      registry,
	}, nil)

	next, called := okHandler()
	req := httptest.NewRequest(http.MethodPost, MessagePath+"?session_id="+session.ID, nil)
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	if !*called {
		t.Error("live session request was not admitted")
	}

	// An unknown session falls through to the credential checks.
	next, called = okHandler()
	req = httptest.NewRequest(http.MethodPost, MessagePath+"?session_id=not-a-session", nil)
	w = httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	if *called {
		t.Error("unknown session was admitted")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareStaticSecret(t *testing.T) {
	m := NewMiddleware(MiddlewareConfig{GatewaySecret: "gateway-secret"}, nil)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "header match", header: "Bearer gateway-secret", want: http.StatusOK},
		{name: "query match", query: "gateway-secret", want: http.StatusOK},
		{name: "wrong secret", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "no credential", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, _ := okHandler()
			target := SSEPath
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			m.Wrap(next).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddlewareOAuthToken(t *testing.T) {
	valid := &stubValidator{info: &auth.TokenInfo{
		ClientID:  "client-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	invalid := &stubValidator{err: auth.ErrInvalidToken("invalid access token")}

	tests := []struct {
		name      string
		validator TokenValidator
		want      int
	}{
		{name: "valid token", validator: valid, want: http.StatusOK},
		{name: "invalid token", validator: invalid, want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMiddleware(MiddlewareConfig{Validator: tt.validator}, nil)
			next, _ := okHandler()
			req := httptest.NewRequest(http.MethodGet, SSEPath, nil)
			req.Header.Set("Authorization", "Bearer some-token")
			w := httptest.NewRecorder()
			m.Wrap(next).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddlewareStaticSecretFallsBackToOAuth(t *testing.T) {
	// A credential that is not the static secret may still be a valid
	// OAuth token.
	m := NewMiddleware(MiddlewareConfig{
		GatewaySecret: "gateway-secret",
		Validator: &stubValidator{info: &auth.TokenInfo{
			ClientID:  "client-1",
			ExpiresAt: time.Now().Add(time.Hour),
		}},
	}, nil)

	next, called := okHandler()
	req := httptest.NewRequest(http.MethodGet, SSEPath, nil)
	req.Header.Set("Authorization", "Bearer an-oauth-token")
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	if !*called {
		t.Errorf("OAuth token rejected when static secret also configured, status = %d", w.Code)
	}
}

func TestMiddlewareStoreFailureIsNot401(t *testing.T) {
	m := NewMiddleware(MiddlewareConfig{
		Validator: &stubValidator{err: auth.ErrServerError("storage unavailable")},
	}, nil)

	next, called := okHandler()
	req := httptest.NewRequest(http.MethodGet, SSEPath, nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	if *called {
		t.Error("request admitted during storage outage")
	}
	if w.Code == http.StatusUnauthorized {
		t.Error("storage outage reported as a credential failure")
	}
	if w.Code < 500 {
		t.Errorf("status = %d, want a 5xx", w.Code)
	}
}

func TestMiddlewareOpenGateway(t *testing.T) {
	m := NewMiddleware(MiddlewareConfig{}, nil)

	next, called := okHandler()
	req := httptest.NewRequest(http.MethodGet, SSEPath, nil)
	w := httptest.NewRecorder()
	m.Wrap(next).ServeHTTP(w, req)

	if !*called {
		t.Errorf("open-gateway request rejected, status = %d", w.Code)
	}
}

func TestMiddlewareUniform401Body(t *testing.T) {
	m := NewMiddleware(MiddlewareConfig{
		GatewaySecret: "gateway-secret",
		Validator:     &stubValidator{err: auth.ErrInvalidToken("invalid access token")},
	}, nil)

	// Two different failure modes must produce byte-identical bodies.
	var bodies []string
	for _, header := range []string{"Bearer wrong-secret", ""} {
		next, _ := okHandler()
		req := httptest.NewRequest(http.MethodGet, SSEPath, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		m.Wrap(next).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		bodies = append(bodies, w.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Errorf("401 bodies differ: %q vs %q", bodies[0], bodies[1])
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(bodies[0]), &body); err != nil {
		t.Fatalf("decode 401 body: %v", err)
	}
	if body.Error != "Unauthorized" {
		t.Errorf("error = %q, want Unauthorized", body.Error)
	}
	if body.Message == "" {
		t.Error("message is empty")
	}
}
