package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP from a request. When trustProxy is set,
// X-Forwarded-For and X-Real-IP are consulted; trustedProxyCount says how
// many proxies at the right of the X-Forwarded-For chain we control, which
// prevents spoofing through an attacker-supplied prefix.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor picks the client entry out of the X-Forwarded-For chain.
// Format is "client, proxy1, proxy2" with our trusted proxies rightmost.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}

	idx := len(ips) - proxyCount - 1
	if idx < 0 {
		idx = 0
	}

	candidate := strings.TrimSpace(ips[idx])
	if net.ParseIP(candidate) != nil {
		return candidate
	}
	return ""
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
