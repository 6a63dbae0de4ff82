package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w, "http://gateway.example.com")

	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store, no-cache, must-revalidate, private",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS set on a plain-http base URL: %q", got)
	}
}

func TestSetSecurityHeadersHSTSOnHTTPS(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w, "https://gateway.example.com")

	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("HSTS missing on an https base URL")
	}
}
