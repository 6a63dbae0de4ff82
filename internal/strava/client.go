// Package strava is a typed client for the Strava REST API v3. It
// authenticates with an athlete's long-lived refresh token through
// x/oauth2, which transparently renews the short-lived access token.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/Stealinglight/StravaMCP/internal/instrumentation"
)

const (
	// DefaultBaseURL is the Strava API root.
	DefaultBaseURL = "https://www.strava.com/api/v3"

	// TokenURL is Strava's OAuth token endpoint.
	TokenURL = "https://www.strava.com/oauth/token"
)

const requestTimeout = 30 * time.Second

// maxResponseBytes bounds a single API response body.
const maxResponseBytes = 16 << 20

// Config holds the upstream Strava credentials. These identify the
// operator's Strava API application and athlete, not a gateway client.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// BaseURL overrides the API root, for tests.
	BaseURL string
}

// APIError is a non-2xx response from Strava. RateLimitUsage and
// RateLimitLimit carry Strava's "short,daily" rate-limit headers when
// present, so callers can tell a quota exhaustion from a plain failure.
type APIError struct {
	StatusCode     int
	Message        string
	RateLimitLimit string
	RateLimitUsage string
}

func (e *APIError) Error() string {
	if e.RateLimitUsage != "" {
		return fmt.Sprintf("strava: %d %s (rate limit %s of %s)",
			e.StatusCode, e.Message, e.RateLimitUsage, e.RateLimitLimit)
	}
	return fmt.Sprintf("strava: %d %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether Strava rejected the call for quota.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Client calls the Strava API for a single athlete.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	inst       *instrumentation.Instrumentation
}

// New creates a Strava client. The refresh token seeds an oauth2
// TokenSource; access tokens are minted and renewed on demand.
func New(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	if config.ClientID == "" || config.ClientSecret == "" || config.RefreshToken == "" {
		return nil, fmt.Errorf("strava client requires client ID, client secret, and refresh token")
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	oauthConfig := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: TokenURL},
	}
	source := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: config.RefreshToken})

	httpClient := oauth2.NewClient(ctx, source)
	httpClient.Timeout = requestTimeout

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
	}, nil
}

// NewWithHTTPClient creates a client over an existing HTTP client. Used by
// tests to bypass the OAuth transport.
func NewWithHTTPClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// SetInstrumentation wires OpenTelemetry instrumentation.
func (c *Client) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.inst = inst
}

// GetAthlete returns the authenticated athlete's profile.
func (c *Client) GetAthlete(ctx context.Context) (*Athlete, error) {
	var athlete Athlete
	if err := c.get(ctx, "get_athlete", "/athlete", nil, &athlete); err != nil {
		return nil, err
	}
	return &athlete, nil
}

// GetAthleteStats returns the rolled-up statistics for an athlete.
func (c *Client) GetAthleteStats(ctx context.Context, athleteID int64) (*AthleteStats, error) {
	var stats AthleteStats
	path := fmt.Sprintf("/athletes/%d/stats", athleteID)
	if err := c.get(ctx, "get_athlete_stats", path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListActivities returns the athlete's activities, newest first.
func (c *Client) ListActivities(ctx context.Context, opts ListActivitiesOptions) ([]Activity, error) {
	query := url.Values{}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if !opts.Before.IsZero() {
		query.Set("before", strconv.FormatInt(opts.Before.Unix(), 10))
	}
	if !opts.After.IsZero() {
		query.Set("after", strconv.FormatInt(opts.After.Unix(), 10))
	}

	var activities []Activity
	if err := c.get(ctx, "list_activities", "/athlete/activities", query, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivity returns one activity in its detailed representation.
func (c *Client) GetActivity(ctx context.Context, activityID int64) (*Activity, error) {
	var activity Activity
	path := fmt.Sprintf("/activities/%d", activityID)
	if err := c.get(ctx, "get_activity", path, nil, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// ListStarredSegments returns the athlete's starred segments.
func (c *Client) ListStarredSegments(ctx context.Context, opts ListOptions) ([]Segment, error) {
	query := url.Values{}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(opts.PerPage))
	}

	var segments []Segment
	if err := c.get(ctx, "list_starred_segments", "/segments/starred", query, &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// GetSegment returns one segment in its detailed representation.
func (c *Client) GetSegment(ctx context.Context, segmentID int64) (*Segment, error) {
	var segment Segment
	path := fmt.Sprintf("/segments/%d", segmentID)
	if err := c.get(ctx, "get_segment", path, nil, &segment); err != nil {
		return nil, err
	}
	return &segment, nil
}

// get performs one API call and decodes the response into out.
func (c *Client) get(ctx context.Context, operation, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordCall(ctx, operation, 0, start)
		return fmt.Errorf("strava %s: %w", operation, err)
	}
	defer resp.Body.Close()

	c.recordCall(ctx, operation, resp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("strava %s: read response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode:     resp.StatusCode,
			Message:        errorMessage(body),
			RateLimitLimit: resp.Header.Get("X-RateLimit-Limit"),
			RateLimitUsage: resp.Header.Get("X-RateLimit-Usage"),
		}
		c.logger.Warn("strava API call failed",
			"operation", operation,
			"status", resp.StatusCode,
			"rate_limit_usage", apiErr.RateLimitUsage)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("strava %s: decode response: %w", operation, err)
	}
	return nil
}

func (c *Client) recordCall(ctx context.Context, operation string, status int, start time.Time) {
	if c.inst != nil {
		c.inst.Metrics().RecordUpstreamCall(ctx, operation, status,
			float64(time.Since(start).Milliseconds()))
	}
}

// errorMessage extracts Strava's error body, which is JSON with a
// "message" field, falling back to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
