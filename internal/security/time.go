package security

import "time"

// DefaultClockSkewGrace is the grace period applied when checking record
// expiry. It absorbs NTP drift between instances sharing a Valkey store; a
// record is only treated as expired once it has been past its expiry for
// longer than the grace period.
const DefaultClockSkewGrace = 5 * time.Second

// IsExpired checks expiry with the default clock skew grace period.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGrace(expiresAt, DefaultClockSkewGrace)
}

// IsExpiredWithGrace checks expiry with a custom grace period. A zero
// expiresAt means no expiration.
func IsExpiredWithGrace(expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(grace))
}
