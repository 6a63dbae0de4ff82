package security

import (
	"net/http"
	"strings"
)

// SetSecurityHeaders sets response headers for the OAuth endpoints. The CSP
// allows nothing; the consent form uses no external resources or scripts.
func SetSecurityHeaders(w http.ResponseWriter, baseURL string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if strings.HasPrefix(baseURL, "https://") {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// OAuth responses carry credentials and must never be cached.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
