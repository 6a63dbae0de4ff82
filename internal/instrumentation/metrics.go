package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the gateway.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flow
	GrantsIssued     metric.Int64Counter
	CodeExchanged    metric.Int64Counter
	TokenRefreshed   metric.Int64Counter
	ClientRegistered metric.Int64Counter

	// Security
	AuthFailures         metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	// Upstream API
	UpstreamAPICallsTotal metric.Int64Counter
	UpstreamAPIDuration   metric.Float64Histogram
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	flowMeter := inst.Meter("oauth")
	storageMeter := inst.Meter("storage")
	upstreamMeter := inst.Meter("upstream")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"gateway.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"gateway.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.GrantsIssued, err = flowMeter.Int64Counter(
		"gateway.oauth.grants.issued",
		metric.WithDescription("Number of authorization grants issued"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.grants.issued counter: %w", err)
	}

	m.CodeExchanged, err = flowMeter.Int64Counter(
		"gateway.oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = flowMeter.Int64Counter(
		"gateway.oauth.token.refreshed",
		metric.WithDescription("Number of access tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.token.refreshed counter: %w", err)
	}

	m.ClientRegistered, err = flowMeter.Int64Counter(
		"gateway.oauth.client.registered",
		metric.WithDescription("Number of dynamically registered clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.client.registered counter: %w", err)
	}

	m.AuthFailures, err = flowMeter.Int64Counter(
		"gateway.auth.failures",
		metric.WithDescription("Number of rejected gateway requests"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.failures counter: %w", err)
	}

	m.RateLimitExceeded, err = flowMeter.Int64Counter(
		"gateway.ratelimit.exceeded",
		metric.WithDescription("Number of rate limit rejections"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.PKCEValidationFailed, err = flowMeter.Int64Counter(
		"gateway.oauth.pkce.failed",
		metric.WithDescription("Number of failed PKCE verifications"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.pkce.failed counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"gateway.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"gateway.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.UpstreamAPICallsTotal, err = upstreamMeter.Int64Counter(
		"gateway.upstream.calls.total",
		metric.WithDescription("Total number of upstream Strava API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.calls.total counter: %w", err)
	}

	m.UpstreamAPIDuration, err = upstreamMeter.Float64Histogram(
		"gateway.upstream.call.duration",
		metric.WithDescription("Upstream Strava API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.call.duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status_code", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordGrantIssued records a newly issued authorization grant.
func (m *Metrics) RecordGrantIssued(ctx context.Context, clientID string) {
	m.GrantsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchange records a code-for-token exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string, success bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records an access-token refresh.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, success bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success),
	))
}

// RecordClientRegistration records a dynamic client registration.
func (m *Metrics) RecordClientRegistration(ctx context.Context) {
	m.ClientRegistered.Add(ctx, 1)
}

// RecordAuthFailure records a rejected gateway request.
func (m *Metrics) RecordAuthFailure(ctx context.Context, path string) {
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
	))
}

// RecordRateLimitExceeded records a rate limit rejection.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEValidationFailed records a failed PKCE verification.
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context) {
	m.PKCEValidationFailed.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation with count and duration.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordUpstreamCall records an upstream Strava API call.
func (m *Metrics) RecordUpstreamCall(ctx context.Context, operation string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("status_code", statusCode),
	)
	m.UpstreamAPICallsTotal.Add(ctx, 1, attrs)
	m.UpstreamAPIDuration.Record(ctx, durationMs, attrs)
}
