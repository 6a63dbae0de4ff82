// Package util holds small shared helpers that have no domain home.
package util

import "strings"

// SafeTruncate returns at most maxLen leading characters of s without
// panicking. Used when logging token prefixes; never log a whole credential.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
// Used for RFC 8707 resource identifier and audience comparison, where URLs
// with and without trailing slashes are considered equivalent.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
