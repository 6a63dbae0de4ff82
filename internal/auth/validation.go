package auth

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Stealinglight/StravaMCP/internal/storage"
)

// Schemes that must never appear in a redirect URI.
var dangerousSchemes = []string{"javascript", "data", "file", "vbscript", "blob", "about"}

// validateRedirectURI runs all redirect URI checks for an authorize or token
// request: the URI must be registered on the client, pass the global
// allow-list, and satisfy the URI security rules. The same checks run at
// registration minus the client match.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	if !client.HasRedirectURI(redirectURI) {
		return fmt.Errorf("redirect_uri not registered for client")
	}
	if !s.redirectURIAllowed(redirectURI) {
		return fmt.Errorf("redirect_uri not permitted by allow-list")
	}
	return s.validateRedirectURISecurity(redirectURI)
}

// redirectURIAllowed checks the global allow-list. Entries match exactly,
// or as a prefix when they end in "*". An empty list allows everything that
// passes the security rules.
func (s *Server) redirectURIAllowed(redirectURI string) bool {
	if len(s.config.AllowedRedirectURIs) == 0 {
		return true
	}
	for _, entry := range s.config.AllowedRedirectURIs {
		if strings.HasSuffix(entry, "*") {
			if strings.HasPrefix(redirectURI, strings.TrimSuffix(entry, "*")) {
				return true
			}
			continue
		}
		if redirectURI == entry {
			return true
		}
	}
	return false
}

// validateRedirectURISecurity applies the URI-shape rules: parseable, no
// fragment, no dangerous scheme, and HTTPS in production except for
// loopback hosts.
func (s *Server) validateRedirectURISecurity(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}

	// OAuth 2.0 Security BCP 4.1.3: no fragments in redirect URIs.
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain a fragment")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("redirect_uri must be absolute")
	}
	for _, bad := range dangerousSchemes {
		if scheme == bad {
			return fmt.Errorf("redirect_uri scheme %q is not allowed", scheme)
		}
	}

	if scheme == "http" || scheme == "https" {
		hostname := strings.ToLower(parsed.Hostname())
		if hostname == "" {
			return fmt.Errorf("redirect_uri must have a host")
		}
		if s.config.Production && scheme == "http" && !isLoopbackHostname(hostname) {
			return fmt.Errorf("http redirect_uri only permitted for loopback hosts")
		}
	}
	// Custom schemes (e.g. app-native cursor://) are permitted; the
	// allow-list is the operator's lever for restricting them.

	return nil
}

// isLoopbackHostname reports whether the hostname is localhost or a
// loopback IP. Handles the bracketed IPv6 form url.Hostname may return.
func isLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
