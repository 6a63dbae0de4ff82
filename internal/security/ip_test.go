package security

import (
	"net/http"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		forwardedFor      string
		realIP            string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.1:54321",
			want:       "203.0.113.1",
		},
		{
			name:         "forwarded-for ignored without trust",
			remoteAddr:   "10.0.0.1:1234",
			forwardedFor: "203.0.113.9",
			want:         "10.0.0.1",
		},
		{
			name:         "forwarded-for single entry",
			remoteAddr:   "10.0.0.1:1234",
			forwardedFor: "203.0.113.9",
			trustProxy:   true,
			want:         "203.0.113.9",
		},
		{
			name:              "forwarded-for chain with one trusted proxy",
			remoteAddr:        "10.0.0.1:1234",
			forwardedFor:      "203.0.113.9, 10.0.0.2",
			trustProxy:        true,
			trustedProxyCount: 1,
			want:              "203.0.113.9",
		},
		{
			name:              "spoofed prefix skipped with two trusted proxies",
			remoteAddr:        "10.0.0.1:1234",
			forwardedFor:      "6.6.6.6, 203.0.113.9, 10.0.0.2, 10.0.0.3",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.9",
		},
		{
			name:       "real-ip fallback",
			remoteAddr: "10.0.0.1:1234",
			realIP:     "203.0.113.9",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:         "garbage forwarded-for falls back to remote addr",
			remoteAddr:   "10.0.0.1:1234",
			forwardedFor: "not-an-ip",
			trustProxy:   true,
			want:         "10.0.0.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}

			got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount)
			if got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
