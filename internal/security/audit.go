// Package security provides the gateway's security primitives: rate
// limiting, token encryption at rest, audit logging, secure response
// headers, and proxy-aware client IP extraction.
package security

import (
	"log/slog"
	"time"
)

// Audit event types.
const (
	EventClientRegistered            = "client_registered"
	EventClientRegistrationRejected  = "client_registration_rejected"
	EventGrantIssued                 = "grant_issued"
	EventGrantReplayAttempt          = "grant_replay_attempt"
	EventTokenIssued                 = "token_issued"
	EventTokenRefreshed              = "token_refreshed"
	EventAuthFailure                 = "auth_failure"
	EventRateLimitExceeded           = "rate_limit_exceeded"
	EventPKCEValidationFailed        = "pkce_validation_failed"
	EventConsentNonceRejected        = "consent_nonce_rejected"
	EventRedirectValidationRejected  = "redirect_validation_rejected"
	EventSessionCreated              = "session_created"
	EventSessionClosed               = "session_closed"
)

// Auditor logs security events. Credential values never appear in events;
// only identifiers, IPs, and reasons.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates an auditor. A nil logger falls back to slog.Default.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event is a single security audit record.
type Event struct {
	Type      string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent emits a structured audit record.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}
	event.Timestamp = time.Now()
	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogClientRegistered records a successful dynamic registration.
func (a *Auditor) LogClientRegistered(clientID, ipAddress string, redirectURIs int) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"redirect_uris": redirectURIs},
	})
}

// LogRegistrationRejected records a rejected registration with its reason.
func (a *Auditor) LogRegistrationRejected(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventClientRegistrationRejected,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogGrantIssued records an authorization grant being minted.
func (a *Auditor) LogGrantIssued(clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventGrantIssued,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scope": scope},
	})
}

// LogTokenIssued records a token pair being minted.
func (a *Auditor) LogTokenIssued(clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scope": scope},
	})
}

// LogTokenRefreshed records an access token refresh.
func (a *Auditor) LogTokenRefreshed(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure records a rejected request with its internal reason.
// The reason is for operators; clients always see a uniform body.
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogRateLimitExceeded records a rate limit rejection.
func (a *Auditor) LogRateLimitExceeded(ipAddress, limiterType string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details:   map[string]any{"limiter_type": limiterType},
	})
}

// LogPKCEFailure records a failed PKCE verification.
func (a *Auditor) LogPKCEFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventPKCEValidationFailed,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}
