package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	// Verifier length bounds from RFC 7636 section 4.1.
	minVerifierLength = 43
	maxVerifierLength = 128
)

// GenerateToken returns a URL-safe random credential built from nBytes of
// crypto/rand output, base64url-encoded without padding. Used for client
// IDs, grant codes, access and refresh tokens, and consent nonces.
func GenerateToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyPKCE checks a code_verifier against the S256 challenge stored with
// the grant. All three checks always run: length bounds, charset, and the
// constant-time digest comparison. Only S256 challenges are ever stored,
// so there is no plain-text comparison path.
func VerifyPKCE(verifier, challenge string) error {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return fmt.Errorf("code verifier length must be between %d and %d characters", minVerifierLength, maxVerifierLength)
	}

	// RFC 7636: unreserved characters only.
	for _, c := range verifier {
		if !isVerifierChar(c) {
			return fmt.Errorf("code verifier contains invalid characters")
		}
	}

	digest := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(digest[:])

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code verifier does not match challenge")
	}
	return nil
}

func isVerifierChar(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
