package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Stealinglight/StravaMCP/internal/security"
)

// Endpoint paths served by the handler.
const (
	MetadataPath  = "/.well-known/oauth-authorization-server"
	RegisterPath  = "/register"
	AuthorizePath = "/authorize"
	TokenPath     = "/token"
)

// Handler is the thin HTTP adapter over Server. It parses requests, invokes
// the flow logic, and writes RFC-shaped responses; no business rules live
// here.
type Handler struct {
	server *Server
}

// NewHandler creates the HTTP adapter for an authorization server.
func NewHandler(server *Server) *Handler {
	return &Handler{server: server}
}

// BaseURL derives the request's effective base URL. Behind a trusted proxy
// the X-Forwarded-Proto and X-Forwarded-Host headers win; otherwise the
// direct request values are used. A configured Issuer overrides both.
func (h *Handler) BaseURL(r *http.Request) string {
	if h.server.config.Issuer != "" {
		return strings.TrimRight(h.server.config.Issuer, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if h.server.config.TrustProxyHeaders {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
			host = fwdHost
		}
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

// HandleMetadata serves the RFC 8414 discovery document.
func (h *Handler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.BaseURL(r)

	metadata := &AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + AuthorizePath,
		TokenEndpoint:                     base + TokenPath,
		RegistrationEndpoint:              base + RegisterPath,
		ScopesSupported:                   h.server.config.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	}
	h.writeJSON(w, r, http.StatusOK, metadata)
}

// HandleRegister serves RFC 7591 dynamic client registration.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, r, ErrInvalidRequest("method not allowed"))
		return
	}

	if h.server.RegistrationGateEnabled() {
		token := ExtractBearerToken(r, false)
		if !h.server.CheckRegistrationToken(token) {
			h.server.auditor.LogRegistrationRejected(h.server.clientIP(r), "bad registration token")
			h.writeError(w, r, ErrInvalidClient("registration access token required"))
			return
		}
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.writeError(w, r, ErrInvalidRequest("malformed registration request body"))
		return
	}

	resp, oerr := h.server.RegisterClient(r.Context(), &req, h.server.clientIP(r))
	if oerr != nil {
		h.writeError(w, r, oerr)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, resp)
}

// HandleAuthorize dispatches GET (consent form) and POST (decision).
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleAuthorizeGet(w, r)
	case http.MethodPost:
		h.handleAuthorizePost(w, r)
	default:
		h.writeError(w, r, ErrInvalidRequest("method not allowed"))
	}
}

func (h *Handler) handleAuthorizeGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	// Client and redirect URI first: their failures render a page and
	// never follow the redirect.
	client, oerr := h.server.ResolveClientAndRedirect(r.Context(), req.ClientID, req.RedirectURI)
	if oerr != nil {
		h.writeErrorPage(w, r, oerr)
		return
	}
	// Remaining parameter failures are delivered on the validated
	// redirect URI per RFC 6749.
	if oerr := h.server.ValidateAuthorizeParams(req); oerr != nil {
		h.redirectError(w, r, req, oerr)
		return
	}

	nonce, oerr := h.server.StartConsent(r.Context())
	if oerr != nil {
		h.writeErrorPage(w, r, oerr)
		return
	}

	h.setPageHeaders(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := consentTmpl.Execute(w, &consentData{
		Action:              AuthorizePath,
		ClientName:          client.Name,
		ResponseType:        req.ResponseType,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ConsentNonce:        nonce,
	})
	if err != nil {
		h.server.logger.Error("failed to render consent form", "error", err)
	}
}

func (h *Handler) handleAuthorizePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeErrorPage(w, r, ErrInvalidRequest("malformed form body"))
		return
	}

	req := &AuthorizeRequest{
		ResponseType:        r.PostFormValue("response_type"),
		ClientID:            r.PostFormValue("client_id"),
		RedirectURI:         r.PostFormValue("redirect_uri"),
		Scope:               r.PostFormValue("scope"),
		State:               r.PostFormValue("state"),
		CodeChallenge:       r.PostFormValue("code_challenge"),
		CodeChallengeMethod: r.PostFormValue("code_challenge_method"),
	}

	// Nothing from the GET is trusted; client and redirect are resolved
	// again before any redirect can happen.
	_, oerr := h.server.ResolveClientAndRedirect(r.Context(), req.ClientID, req.RedirectURI)
	if oerr != nil {
		h.writeErrorPage(w, r, oerr)
		return
	}

	if r.PostFormValue("decision") != "approve" {
		h.redirectError(w, r, req, ErrAccessDenied("the resource owner denied the request"))
		return
	}

	code, oerr := h.server.ApproveAuthorization(r.Context(), req, r.PostFormValue("consent_nonce"), h.server.clientIP(r))
	if oerr != nil {
		if oerr.Code == ErrorCodeServerError || oerr.Code == ErrorCodeInvalidClient || oerr.Code == ErrorCodeInvalidRedirectURI {
			h.writeErrorPage(w, r, oerr)
			return
		}
		h.redirectError(w, r, req, oerr)
		return
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		h.writeErrorPage(w, r, ErrInvalidRedirectURI("invalid redirect_uri"))
		return
	}
	params := redirect.Query()
	params.Set("code", code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	redirect.RawQuery = params.Encode()

	h.setPageHeaders(w, r)
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// HandleToken serves the token endpoint for both grant types.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, r, ErrInvalidRequest("method not allowed"))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, ErrInvalidRequest("malformed form body"))
		return
	}

	ip := h.server.clientIP(r)
	if oerr := h.server.CheckTokenRate(r.Context(), ip); oerr != nil {
		h.writeError(w, r, oerr)
		return
	}

	var (
		resp *TokenResponse
		oerr *OAuthError
	)
	switch grantType := r.PostFormValue("grant_type"); grantType {
	case "authorization_code":
		resp, oerr = h.server.ExchangeAuthorizationCode(r.Context(), &ExchangeRequest{
			Code:         r.PostFormValue("code"),
			ClientID:     r.PostFormValue("client_id"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
		}, ip)
	case "refresh_token":
		resp, oerr = h.server.RefreshAccessToken(r.Context(),
			r.PostFormValue("refresh_token"),
			r.PostFormValue("client_id"),
			ip)
	case "":
		oerr = ErrInvalidRequest("grant_type is required")
	default:
		oerr = ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", grantType))
	}

	if oerr != nil {
		h.writeError(w, r, oerr)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// ExtractBearerToken pulls the bearer credential from the Authorization
// header, falling back to the access_token query parameter when allowQuery
// is set. EventSource clients cannot set headers, hence the fallback.
func ExtractBearerToken(r *http.Request, allowQuery bool) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if allowQuery {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// ============================================================
// Response helpers
// ============================================================

func (h *Handler) setPageHeaders(w http.ResponseWriter, r *http.Request) {
	security.SetSecurityHeaders(w, h.BaseURL(r))
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	security.SetSecurityHeaders(w, h.BaseURL(r))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.server.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, oerr *OAuthError) {
	security.SetSecurityHeaders(w, h.BaseURL(r))
	if oerr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error=%q, error_description=%q`, oerr.Code, oerr.Description))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oerr.Status)
	if err := json.NewEncoder(w).Encode(&ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	}); err != nil {
		h.server.logger.Error("failed to encode error response", "error", err)
	}
}

// writeErrorPage renders an HTML error for failures that must not reach the
// redirect URI.
func (h *Handler) writeErrorPage(w http.ResponseWriter, r *http.Request, oerr *OAuthError) {
	h.setPageHeaders(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(oerr.Status)
	if err := errorPageTmpl.Execute(w, oerr); err != nil {
		h.server.logger.Error("failed to render error page", "error", err)
	}
}

// redirectError delivers an error on the validated redirect URI.
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, req *AuthorizeRequest, oerr *OAuthError) {
	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		h.writeErrorPage(w, r, oerr)
		return
	}
	params := redirect.Query()
	params.Set("error", oerr.Code)
	if oerr.Description != "" {
		params.Set("error_description", oerr.Description)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	redirect.RawQuery = params.Encode()

	h.setPageHeaders(w, r)
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}
