package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stealinglight/StravaMCP/internal/strava"
)

// stubStrava serves canned responses and records what it was called with.
type stubStrava struct {
	athlete     *strava.Athlete
	stats       *strava.AthleteStats
	activities  []strava.Activity
	activity    *strava.Activity
	segments    []strava.Segment
	segment     *strava.Segment
	err         error
	gotListOpts strava.ListActivitiesOptions
	gotActivity int64
	gotSegment  int64
	gotStatsID  int64
}

func (s *stubStrava) GetAthlete(_ context.Context) (*strava.Athlete, error) {
	return s.athlete, s.err
}

func (s *stubStrava) GetAthleteStats(_ context.Context, athleteID int64) (*strava.AthleteStats, error) {
	s.gotStatsID = athleteID
	return s.stats, s.err
}

func (s *stubStrava) ListActivities(_ context.Context, opts strava.ListActivitiesOptions) ([]strava.Activity, error) {
	s.gotListOpts = opts
	return s.activities, s.err
}

func (s *stubStrava) GetActivity(_ context.Context, activityID int64) (*strava.Activity, error) {
	s.gotActivity = activityID
	return s.activity, s.err
}

func (s *stubStrava) ListStarredSegments(_ context.Context, _ strava.ListOptions) ([]strava.Segment, error) {
	return s.segments, s.err
}

func (s *stubStrava) GetSegment(_ context.Context, segmentID int64) (*strava.Segment, error) {
	s.gotSegment = segmentID
	return s.segment, s.err
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.Len(t, result.Content, 1)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "content type = %T, want TextContent", result.Content[0])
	return text.Text
}

func TestToolsRegistered(t *testing.T) {
	srv := New(&stubStrava{}, nil)

	response := srv.HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	data, err := json.Marshal(response)
	require.NoError(t, err)

	for _, tool := range []string{
		"get_athlete_profile",
		"get_athlete_stats",
		"list_activities",
		"get_activity",
		"list_starred_segments",
		"get_segment",
	} {
		assert.Contains(t, string(data), `"`+tool+`"`)
	}
}

func TestGetAthleteProfile(t *testing.T) {
	stub := &stubStrava{athlete: &strava.Athlete{ID: 7, Username: "wheeler"}}
	srv := New(stub, nil)

	result, err := srv.handleGetAthleteProfile(context.Background(), callRequest("get_athlete_profile", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, "unexpected tool error: %s", textContent(t, result))

	var athlete strava.Athlete
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &athlete))
	assert.Equal(t, "wheeler", athlete.Username)
}

func TestGetAthleteStatsResolvesAthleteID(t *testing.T) {
	stub := &stubStrava{
		athlete: &strava.Athlete{ID: 99},
		stats:   &strava.AthleteStats{BiggestRideDistance: 120000},
	}
	srv := New(stub, nil)

	result, err := srv.handleGetAthleteStats(context.Background(), callRequest("get_athlete_stats", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, "unexpected tool error: %s", textContent(t, result))
	assert.Equal(t, int64(99), stub.gotStatsID)
}

func TestListActivitiesArguments(t *testing.T) {
	stub := &stubStrava{activities: []strava.Activity{{ID: 1, Name: "Morning Ride"}}}
	srv := New(stub, nil)

	result, err := srv.handleListActivities(context.Background(), callRequest("list_activities", map[string]any{
		"page":     float64(3),
		"per_page": float64(10),
		"after":    float64(1717200000),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "unexpected tool error: %s", textContent(t, result))

	assert.Equal(t, 3, stub.gotListOpts.Page)
	assert.Equal(t, 10, stub.gotListOpts.PerPage)
	assert.True(t, stub.gotListOpts.After.Equal(time.Unix(1717200000, 0)))
	assert.True(t, stub.gotListOpts.Before.IsZero())
}

func TestGetActivityRequiresID(t *testing.T) {
	srv := New(&stubStrava{activity: &strava.Activity{ID: 42}}, nil)

	result, err := srv.handleGetActivity(context.Background(), callRequest("get_activity", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError, "missing activity_id should produce a tool error")
}

func TestGetActivity(t *testing.T) {
	stub := &stubStrava{activity: &strava.Activity{ID: 42, Name: "Hill Repeats"}}
	srv := New(stub, nil)

	result, err := srv.handleGetActivity(context.Background(), callRequest("get_activity", map[string]any{
		"activity_id": float64(42),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "unexpected tool error: %s", textContent(t, result))
	assert.Equal(t, int64(42), stub.gotActivity)
	assert.Contains(t, textContent(t, result), "Hill Repeats")
}

func TestGetSegment(t *testing.T) {
	stub := &stubStrava{segment: &strava.Segment{ID: 5, Name: "Col du Test"}}
	srv := New(stub, nil)

	result, err := srv.handleGetSegment(context.Background(), callRequest("get_segment", map[string]any{
		"segment_id": float64(5),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "unexpected tool error: %s", textContent(t, result))
	assert.Equal(t, int64(5), stub.gotSegment)
}

func TestUpstreamFailureBecomesToolError(t *testing.T) {
	stub := &stubStrava{err: &strava.APIError{
		StatusCode:     429,
		Message:        "Rate Limit Exceeded",
		RateLimitLimit: "200,2000",
		RateLimitUsage: "201,1500",
	}}
	srv := New(stub, nil)

	result, err := srv.handleGetAthleteProfile(context.Background(), callRequest("get_athlete_profile", nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "Rate Limit Exceeded")
}

func TestToolsWithoutUpstreamCredentials(t *testing.T) {
	srv := New(nil, nil)

	handler := srv.requireAPI(srv.handleGetAthleteProfile)
	result, err := handler(context.Background(), callRequest("get_athlete_profile", nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "not configured")
}
