package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never put credential values (access tokens, refresh tokens, grant codes)
// into span attributes. Only metadata: token types, expiry seconds, client
// IDs, validation results.
const (
	AttrClientID     = "oauth.client_id"
	AttrScope        = "oauth.scope"
	AttrGrantType    = "oauth.grant_type"
	AttrResponseType = "oauth.response_type"
	AttrRedirectURI  = "oauth.redirect_uri"
	AttrExpiresIn    = "oauth.expires_in"
	AttrError        = "oauth.error"

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageBackend   = "storage.backend"

	AttrSessionID     = "gateway.session_id"
	AttrAuthScheme    = "gateway.auth_scheme"
	AttrUpstreamOp    = "upstream.operation"
	AttrHTTPEndpoint  = "http.endpoint"
	AttrHTTPMethod    = "http.method"
	AttrHTTPStatus    = "http.status_code"
	AttrClientIP      = "security.client_ip"
	AttrRateLimitType = "security.rate_limiter.type"
)

// RecordError records an error on a span with error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common OAuth flow attributes to a span (nil-safe).
func AddFlowAttributes(span trace.Span, clientID, grantType, scope string) {
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 3)
	if clientID != "" {
		attrs = append(attrs, attribute.String(AttrClientID, clientID))
	}
	if grantType != "" {
		attrs = append(attrs, attribute.String(AttrGrantType, grantType))
	}
	if scope != "" {
		attrs = append(attrs, attribute.String(AttrScope, scope))
	}
	span.SetAttributes(attrs...)
}
